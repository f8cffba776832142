package mqtingestor

import (
	"hash/fnv"
	"strings"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
)

// unknownDevice is used when a topic carries no device segment.
const unknownDevice = "unknown"

// ParseTopic routes a topic to a message kind and device id.
// Expected formats: telemetry/<device_id>[/...] and status/<device_id>
func ParseTopic(topic string) (mqtmodels.MessageKind, string, bool) {
	parts := strings.Split(topic, "/")

	var kind mqtmodels.MessageKind
	switch parts[0] {
	case "telemetry":
		kind = mqtmodels.KindTelemetry
	case "status":
		kind = mqtmodels.KindStatus
	default:
		return "", "", false
	}

	deviceID := unknownDevice
	if len(parts) > 1 && parts[1] != "" {
		deviceID = parts[1]
	}
	return kind, deviceID, true
}

// shardFor maps a device to one of n workers; a device always lands on the same one.
func shardFor(deviceID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}
