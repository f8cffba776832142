package livestream

import (
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	mqtingestor "github.com/cornellpepper/CuWatch-server/src/production/MQT.Ingestor"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Subscriber feeds a Stream from the broker's telemetry and status topics.
type Subscriber struct {
	cfg    config.MQTTConfig
	stream *Stream
	logger *logger.Logger
	client mqtt.Client
}

func NewSubscriber(cfg config.MQTTConfig, stream *Stream, log *logger.Logger) *Subscriber {
	if log == nil {
		log = logger.Nop()
	}
	return &Subscriber{
		cfg:    cfg,
		stream: stream,
		logger: log.WithComponent("livestream"),
	}
}

// Start connects in the background; the live feed is best effort and never
// blocks the API from coming up.
func (s *Subscriber) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL()).
		SetClientID(s.cfg.ClientID + "-live-" + uuid.NewString()[:8]).
		SetKeepAlive(s.cfg.KeepAlive).
		SetPingTimeout(s.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)

	if s.cfg.BrokerUser != "" {
		opts.SetUsername(s.cfg.BrokerUser)
		opts.SetPassword(s.cfg.BrokerPass)
	}
	if s.cfg.UseTLS {
		tlsCfg, err := mqtingestor.TLSConfig(s.cfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnect = func(c mqtt.Client) {
		for _, topic := range s.cfg.Topics {
			if token := c.Subscribe(topic, 0, s.onMessage); token.Wait() && token.Error() != nil {
				s.logger.WithField("topic", topic).ErrorWithError(token.Error(), "Live subscribe failed")
			}
		}
		s.logger.Info("Live stream subscribed")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.logger.WarnWithError(err, "Live stream connection lost")
	}

	s.client = mqtt.NewClient(opts)
	s.client.Connect()
	return nil
}

func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) onMessage(_ mqtt.Client, m mqtt.Message) {
	line, ok := EncodeLine(m.Topic(), m.Payload())
	if !ok {
		return
	}
	s.stream.Push(line)
}
