package mqtingestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	telemetry "github.com/cornellpepper/CuWatch-server/src/production/MQT.Telemetry"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	topic   string
	payload []byte

	mu    sync.Mutex
	acked int
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack() {
	m.mu.Lock()
	m.acked++
	m.mu.Unlock()
}

func (m *fakeMessage) ackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

type call struct {
	kind     mqtmodels.MessageKind
	deviceID string
	payload  telemetry.Payload
}

type fakeHandler struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (h *fakeHandler) HandleTelemetry(_ context.Context, deviceID string, p telemetry.Payload) (*telemetry.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call{mqtmodels.KindTelemetry, deviceID, p})
	return &telemetry.Outcome{}, h.err
}

func (h *fakeHandler) HandleStatus(_ context.Context, deviceID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call{kind: mqtmodels.KindStatus, deviceID: deviceID})
	return h.err
}

func (h *fakeHandler) snapshot() []call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]call(nil), h.calls...)
}

type countingObserver struct {
	mu       sync.Mutex
	received int
	ingested int
	dropped  map[string]int
}

func (o *countingObserver) MessageReceived(mqtmodels.MessageKind) {
	o.mu.Lock()
	o.received++
	o.mu.Unlock()
}

func (o *countingObserver) MessageIngested(mqtmodels.MessageKind, time.Duration) {
	o.mu.Lock()
	o.ingested++
	o.mu.Unlock()
}

func (o *countingObserver) MessageDropped(reason string) {
	o.mu.Lock()
	if o.dropped == nil {
		o.dropped = map[string]int{}
	}
	o.dropped[reason]++
	o.mu.Unlock()
}

func (o *countingObserver) QueueDepth(int, int) {}

func testConfig(workers int) *config.IngestorConfig {
	return &config.IngestorConfig{
		Telemetry: config.TelemetryConfig{
			Workers:       workers,
			QueueSize:     16,
			HandleTimeout: time.Second,
			ErrorTopic:    "ingestor/errors",
		},
	}
}

func runIngestor(t *testing.T, h Handler, obs Observer, msgs ...*fakeMessage) {
	t.Helper()
	ing := New(testConfig(4), h, logger.Nop())
	ing.SetObserver(obs)
	ing.startWorkers(context.Background())
	for _, m := range msgs {
		ing.onMessage(nil, m)
	}
	ing.Stop()
}

func TestParseTopic(t *testing.T) {
	cases := []struct {
		topic    string
		kind     mqtmodels.MessageKind
		deviceID string
		ok       bool
	}{
		{"telemetry/pi-01", mqtmodels.KindTelemetry, "pi-01", true},
		{"telemetry/pi-01/extra/segments", mqtmodels.KindTelemetry, "pi-01", true},
		{"status/pi-02", mqtmodels.KindStatus, "pi-02", true},
		{"telemetry", mqtmodels.KindTelemetry, "unknown", true},
		{"telemetry/", mqtmodels.KindTelemetry, "unknown", true},
		{"control/pi-01/set", "", "", false},
		{"lwt/bridge", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.topic, func(t *testing.T) {
			kind, id, ok := ParseTopic(tc.topic)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.kind, kind)
			require.Equal(t, tc.deviceID, id)
		})
	}
}

func TestShardForIsStable(t *testing.T) {
	for n := range 50 {
		id := fmt.Sprintf("pi-%02d", n)
		s := shardFor(id, 8)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 8)
		require.Equal(t, s, shardFor(id, 8))
	}
}

func TestIngestorRoutesAndAcks(t *testing.T) {
	h := &fakeHandler{}
	obs := &countingObserver{}
	tel := &fakeMessage{topic: "telemetry/pi-01", payload: []byte(`{"muon_count": 3, "dt": 10}`)}
	st := &fakeMessage{topic: "status/pi-01", payload: []byte(`online`)}

	runIngestor(t, h, obs, tel, st)

	calls := h.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, mqtmodels.KindTelemetry, calls[0].kind)
	require.Equal(t, "pi-01", calls[0].deviceID)
	require.Contains(t, calls[0].payload, "muon_count")
	require.Equal(t, mqtmodels.KindStatus, calls[1].kind)

	require.Equal(t, 1, tel.ackCount())
	require.Equal(t, 1, st.ackCount())
	require.Equal(t, 2, obs.received)
	require.Equal(t, 2, obs.ingested)
}

func TestIngestorPreservesPerDeviceOrder(t *testing.T) {
	h := &fakeHandler{}
	var msgs []*fakeMessage
	for n := range 100 {
		dev := fmt.Sprintf("pi-%d", n%5)
		msgs = append(msgs, &fakeMessage{
			topic:   "telemetry/" + dev,
			payload: []byte(fmt.Sprintf(`{"seq": %d}`, n)),
		})
	}

	runIngestor(t, h, nil, msgs...)

	calls := h.snapshot()
	require.Len(t, calls, 100)
	last := map[string]int64{}
	for _, c := range calls {
		seq, err := c.payload["seq"].(json.Number).Int64()
		require.NoError(t, err)
		if prev, ok := last[c.deviceID]; ok {
			require.Greater(t, seq, prev, "device %s out of order", c.deviceID)
		}
		last[c.deviceID] = seq
	}
}

func TestIngestorAcksMalformedPayload(t *testing.T) {
	h := &fakeHandler{}
	obs := &countingObserver{}
	bad := &fakeMessage{topic: "telemetry/pi-01", payload: []byte(`not json`)}

	runIngestor(t, h, obs, bad)

	require.Empty(t, h.snapshot())
	require.Equal(t, 1, bad.ackCount())
	require.Equal(t, 1, obs.dropped[ReasonMalformed])
}

func TestIngestorAcksWhenHandlerRejects(t *testing.T) {
	h := &fakeHandler{err: fmt.Errorf("muon_count: %w", telemetry.ErrMalformedMessage)}
	m := &fakeMessage{topic: "telemetry/pi-01", payload: []byte(`{}`)}

	runIngestor(t, h, nil, m)

	require.Equal(t, 1, m.ackCount())
}

func TestIngestorLeavesStorageFailuresUnacked(t *testing.T) {
	h := &fakeHandler{err: fmt.Errorf("insert sample: %w: %w", telemetry.ErrStorageUnavailable, errors.New("connection refused"))}
	obs := &countingObserver{}
	m := &fakeMessage{topic: "telemetry/pi-01", payload: []byte(`{"muon_count": 1}`)}

	runIngestor(t, h, obs, m)

	require.Zero(t, m.ackCount())
	require.Equal(t, 1, obs.dropped[ReasonStorage])
	require.Zero(t, obs.ingested)
}

func TestIngestorIgnoresUnknownTopics(t *testing.T) {
	h := &fakeHandler{}
	obs := &countingObserver{}
	m := &fakeMessage{topic: "control/pi-01/set", payload: []byte(`{}`)}

	runIngestor(t, h, obs, m)

	require.Empty(t, h.snapshot())
	require.Equal(t, 1, m.ackCount())
	require.Equal(t, 1, obs.dropped[ReasonTopic])
}

func TestStopIsIdempotentAndDropsLateMessages(t *testing.T) {
	h := &fakeHandler{}
	ing := New(testConfig(2), h, nil)
	ing.startWorkers(context.Background())
	ing.Stop()
	ing.Stop()

	ing.onMessage(nil, &fakeMessage{topic: "telemetry/pi-01", payload: []byte(`{}`)})
	require.Empty(t, h.snapshot())
	require.False(t, ing.IsConnected())
}

func TestTLSConfigRejectsMissingCA(t *testing.T) {
	cfg, err := TLSConfig("")
	require.NoError(t, err)
	require.Nil(t, cfg.RootCAs)

	_, err = TLSConfig("/nonexistent/ca.pem")
	require.Error(t, err)
}
