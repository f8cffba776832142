package mqtingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	telemetry "github.com/cornellpepper/CuWatch-server/src/production/MQT.Telemetry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Last-will published by the broker when the ingestor drops off
const (
	WillTopic   = "lwt/bridge"
	WillPayload = `{"online":false}`
)

// Drop reasons reported to the Observer
const (
	ReasonMalformed = "malformed"
	ReasonStorage   = "storage"
	ReasonTopic     = "topic"
)

// Handler is the ingestion step a routed message is handed to
type Handler interface {
	HandleTelemetry(ctx context.Context, deviceID string, p telemetry.Payload) (*telemetry.Outcome, error)
	HandleStatus(ctx context.Context, deviceID string) error
}

// Observer receives pipeline events; implemented by the metrics package
type Observer interface {
	MessageReceived(kind mqtmodels.MessageKind)
	MessageIngested(kind mqtmodels.MessageKind, latency time.Duration)
	MessageDropped(reason string)
	QueueDepth(shard, depth int)
}

type nopObserver struct{}

func (nopObserver) MessageReceived(mqtmodels.MessageKind)                {}
func (nopObserver) MessageIngested(mqtmodels.MessageKind, time.Duration) {}
func (nopObserver) MessageDropped(string)                                {}
func (nopObserver) QueueDepth(int, int)                                  {}

type Ingestor struct {
	mqttCfg  config.MQTTConfig
	cfg      config.TelemetryConfig
	handler  Handler
	observer Observer
	logger   *logger.Logger
	client   mqtt.Client

	mu     sync.RWMutex
	closed bool
	shards []chan mqtmodels.BusMessage
	wg     sync.WaitGroup
}

func New(cfg *config.IngestorConfig, handler Handler, log *logger.Logger) *Ingestor {
	if log == nil {
		log = logger.Nop()
	}
	workers := max(cfg.Telemetry.Workers, 1)
	shards := make([]chan mqtmodels.BusMessage, workers)
	for n := range shards {
		shards[n] = make(chan mqtmodels.BusMessage, max(cfg.Telemetry.QueueSize, 1))
	}
	return &Ingestor{
		mqttCfg:  cfg.MQTT,
		cfg:      cfg.Telemetry,
		handler:  handler,
		observer: nopObserver{},
		logger:   log.WithComponent("ingestor"),
		shards:   shards,
	}
}

// SetObserver installs o; call before Start
func (i *Ingestor) SetObserver(o Observer) {
	if o != nil {
		i.observer = o
	}
}

func (i *Ingestor) Start(ctx context.Context) error {
	i.startWorkers(ctx)

	opts := mqtt.NewClientOptions().
		AddBroker(i.mqttCfg.BrokerURL()).
		SetClientID(i.clientID()).
		SetOrderMatters(true).
		SetAutoAckDisabled(true).
		SetKeepAlive(i.mqttCfg.KeepAlive).
		SetPingTimeout(i.mqttCfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		// Shared groups use clean sessions; un-acked messages are lost on reconnect.
		SetCleanSession(i.mqttCfg.SharedGroup != "").
		SetWill(WillTopic, WillPayload, 1, true)

	if i.mqttCfg.BrokerUser != "" {
		opts.SetUsername(i.mqttCfg.BrokerUser)
		opts.SetPassword(i.mqttCfg.BrokerPass)
	}

	if i.mqttCfg.UseTLS {
		tlsCfg, err := TLSConfig(i.mqttCfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.logger.WarnWithError(err, "MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		for _, topic := range i.mqttCfg.SubscriptionTopics() {
			i.logger.Logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing")
			if token := c.Subscribe(topic, i.mqttCfg.QoS, i.onMessage); token.Wait() && token.Error() != nil {
				i.logger.WithField("topic", topic).ErrorWithError(token.Error(), "Subscribe failed")
			}
		}
	}

	i.client = mqtt.NewClient(opts)
	if tk := i.client.Connect(); tk.Wait() && tk.Error() != nil {
		return tk.Error()
	}

	return nil
}

// clientID keeps the configured id unique per process when running behind a shared group.
// Only a fixed id gets a persistent session.
func (i *Ingestor) clientID() string {
	if i.mqttCfg.SharedGroup == "" {
		return i.mqttCfg.ClientID
	}
	return i.mqttCfg.ClientID + "-" + uuid.NewString()[:8]
}

func (i *Ingestor) startWorkers(ctx context.Context) {
	for n, ch := range i.shards {
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			i.worker(ctx, n, ch)
		}()
	}
}

// Stop disconnects, drains the queued messages and waits for the workers
func (i *Ingestor) Stop() {
	if i.client != nil && i.client.IsConnected() {
		i.client.Disconnect(500)
	}

	i.mu.Lock()
	if !i.closed {
		i.closed = true
		for _, ch := range i.shards {
			close(ch)
		}
	}
	i.mu.Unlock()

	i.wg.Wait()
}

func (i *Ingestor) IsConnected() bool {
	return i.client != nil && i.client.IsConnected()
}

func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	kind, deviceID, ok := ParseTopic(m.Topic())
	if !ok {
		i.logger.Logger.Warn().Str("topic", m.Topic()).Msg("Ignoring message on unexpected topic")
		i.observer.MessageDropped(ReasonTopic)
		m.Ack()
		return
	}
	i.observer.MessageReceived(kind)

	msg := mqtmodels.BusMessage{
		Kind:       kind,
		DeviceID:   deviceID,
		Topic:      m.Topic(),
		Payload:    m.Payload(),
		ReceivedAt: time.Now().UTC(),
		Ack:        m.Ack,
	}
	i.dispatch(msg)
}

// dispatch queues msg on its device's shard, blocking while the shard is full
func (i *Ingestor) dispatch(msg mqtmodels.BusMessage) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return
	}

	n := shardFor(msg.DeviceID, len(i.shards))
	i.shards[n] <- msg
	i.observer.QueueDepth(n, len(i.shards[n]))
}

func (i *Ingestor) worker(ctx context.Context, shard int, ch <-chan mqtmodels.BusMessage) {
	for msg := range ch {
		i.process(ctx, msg)
		i.observer.QueueDepth(shard, len(ch))
	}
}

// process runs one message through the handler. Malformed messages are acked
// and dropped; storage failures are left un-acked for redelivery.
func (i *Ingestor) process(ctx context.Context, msg mqtmodels.BusMessage) {
	hctx, cancel := context.WithTimeout(ctx, i.handleTimeout())
	defer cancel()

	log := i.logger.WithDevice(msg.DeviceID)

	var err error
	switch msg.Kind {
	case mqtmodels.KindTelemetry:
		var p telemetry.Payload
		if p, err = telemetry.DecodePayload(msg.Payload); err == nil {
			_, err = i.handler.HandleTelemetry(hctx, msg.DeviceID, p)
		}
	case mqtmodels.KindStatus:
		err = i.handler.HandleStatus(hctx, msg.DeviceID)
	}

	switch {
	case err == nil:
		i.observer.MessageIngested(msg.Kind, time.Since(msg.ReceivedAt))
		ack(msg)
	case errors.Is(err, telemetry.ErrMalformedMessage):
		log.Logger.Warn().Err(err).Str("topic", msg.Topic).Str("reason", ReasonMalformed).Msg("Skip bad message")
		i.observer.MessageDropped(ReasonMalformed)
		i.publishError(msg.DeviceID, "malformed_message", err.Error())
		ack(msg)
	default:
		log.Logger.Error().Err(err).Str("topic", msg.Topic).Str("reason", ReasonStorage).Msg("Message not stored, awaiting redelivery")
		i.observer.MessageDropped(ReasonStorage)
		i.publishError(msg.DeviceID, "insert_failed", err.Error())
	}
}

func ack(msg mqtmodels.BusMessage) {
	if msg.Ack != nil {
		msg.Ack()
	}
}

func (i *Ingestor) handleTimeout() time.Duration {
	if i.cfg.HandleTimeout <= 0 {
		return 10 * time.Second
	}
	return i.cfg.HandleTimeout
}

// TLSConfig builds the broker TLS config, optionally pinning a CA file
func TLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}

// ErrorReport is published to <error topic>/<device_id> for device-side feedback
type ErrorReport struct {
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// publishError publishes an error message to the error topic for device feedback
func (i *Ingestor) publishError(deviceID, errorType, message string) {
	if i.client == nil || !i.client.IsConnected() || i.cfg.ErrorTopic == "" {
		return
	}

	payloadJSON, err := json.Marshal(ErrorReport{
		ErrorType: errorType,
		Message:   message,
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		i.logger.ErrorWithError(err, "Failed to marshal error payload")
		return
	}

	errorTopic := fmt.Sprintf("%s/%s", i.cfg.ErrorTopic, deviceID)
	token := i.client.Publish(errorTopic, 1, false, payloadJSON)

	// Publishing runs on a shard worker; don't stall the device's queue on a slow broker.
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		i.logger.WithField("topic", errorTopic).Warn("Failed to publish error report")
	}
}
