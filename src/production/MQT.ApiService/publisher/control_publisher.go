package publisher

import (
	"errors"
	"fmt"
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	mqtingestor "github.com/cornellpepper/CuWatch-server/src/production/MQT.Ingestor"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Control messages are retained so a device picks up its latest settings on reconnect.
const (
	ControlQoS    = 1
	ControlRetain = true
)

var ErrNotConnected = errors.New("mqtt publisher not connected")

// ControlTopic is where a device listens for settings
func ControlTopic(deviceID string) string {
	return fmt.Sprintf("control/%s/set", deviceID)
}

// ControlPublisher sends control payloads to devices
type ControlPublisher struct {
	client  mqtt.Client
	timeout time.Duration
	logger  *logger.Logger
}

func NewControlPublisher(cfg config.MQTTConfig, log *logger.Logger) (*ControlPublisher, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("control")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID + "-control-" + uuid.NewString()[:8]).
		SetKeepAlive(cfg.KeepAlive).
		SetPingTimeout(cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if cfg.BrokerUser != "" {
		opts.SetUsername(cfg.BrokerUser)
		opts.SetPassword(cfg.BrokerPass)
	}
	if cfg.UseTLS {
		tlsCfg, err := mqtingestor.TLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WarnWithError(err, "Control publisher connection lost")
	}

	client := mqtt.NewClient(opts)
	client.Connect()

	return &ControlPublisher{client: client, timeout: 5 * time.Second, logger: log}, nil
}

// PublishControl publishes payload to the device's control topic and waits for the broker
func (p *ControlPublisher) PublishControl(deviceID string, payload []byte) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	topic := ControlTopic(deviceID)
	token := p.client.Publish(topic, ControlQoS, ControlRetain, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.logger.Logger.Info().Str("device_id", deviceID).Str("topic", topic).Msg("Control published")
	return nil
}

func (p *ControlPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

func (p *ControlPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
