package mqtmodels

import "time"

// MessageKind tells telemetry messages from status heartbeats.
type MessageKind string

const (
	KindTelemetry MessageKind = "telemetry"
	KindStatus    MessageKind = "status"
)

// BusMessage is one payload received from the broker, already routed to a device
type BusMessage struct {
	Kind       MessageKind
	DeviceID   string
	Topic      string
	Payload    []byte
	ReceivedAt time.Time

	// Ack releases the message back to the broker. Leaving it un-acked
	// asks for redelivery.
	Ack func()
}
