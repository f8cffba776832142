package livestream

import (
	"net/http"
	"time"

	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler serves the live feed over a WebSocket: a snapshot of recent lines,
// then every new line until the client goes away.
type Handler struct {
	stream   *Stream
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(stream *Stream, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		stream: stream,
		logger: log.WithComponent("livestream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnWithError(err, "WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	snapshot, lines, unsubscribe := h.stream.Follow(SnapshotSize)
	defer unsubscribe()

	for _, line := range snapshot {
		if err := write(conn, websocket.TextMessage, line); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := write(conn, websocket.TextMessage, line); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func write(conn *websocket.Conn, kind int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(kind, data)
}
