package mqtmodels

import "time"

// OnlineThreshold is how recently a device must have been seen to count as online.
const OnlineThreshold = 5 * time.Minute

// Device represents a muon detector publishing on the bus
type Device struct {
	ID           string     `json:"id" bson:"_id" db:"id"`
	LastSeen     *time.Time `json:"last_seen,omitempty" bson:"last_seen,omitempty" db:"last_seen"`
	Online       bool       `json:"online" bson:"online" db:"online"`
	DeviceNumber *int       `json:"device_number,omitempty" bson:"device_number,omitempty" db:"device_number"`
	Meta         DeviceMeta `json:"meta" bson:"meta" db:"meta"`
}

// DeviceMeta is the free-form blob stored alongside a device.
type DeviceMeta struct {
	CurrentRun *RunRef        `json:"current_run,omitempty" bson:"current_run,omitempty"`
	Metrics    *DeviceMetrics `json:"metrics,omitempty" bson:"metrics,omitempty"`
}

// DeviceMetrics holds the latest rate estimates of a device.
type DeviceMetrics struct {
	InstRateHz *float64 `json:"inst_rate_hz,omitempty" bson:"inst_rate_hz,omitempty"`
	EmaRateHz  *float64 `json:"ema_rate_hz,omitempty" bson:"ema_rate_hz,omitempty"`
}

// IsOnline reports whether the device was seen within OnlineThreshold of now.
func (d Device) IsOnline(now time.Time) bool {
	if d.LastSeen == nil {
		return false
	}
	return now.Sub(*d.LastSeen) <= OnlineThreshold
}
