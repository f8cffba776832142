package mqtmodels

import "time"

// Run is one continuous operating epoch of a device, anchored by BaseTs.
// At most one run exists per (DeviceID, BaseTs).
type Run struct {
	DeviceID string    `json:"device_id" bson:"device_id" db:"device_id"`
	BaseTs   time.Time `json:"base_ts" bson:"base_ts" db:"base_ts"`
	RunKey   *string   `json:"run_key,omitempty" bson:"run_key,omitempty" db:"run_key"`
	Meta     RunMeta   `json:"meta" bson:"meta" db:"meta"`
}

// RunMeta carries the optional first-event metadata and end-of-run tracking.
type RunMeta struct {
	Baseline         *float64   `json:"baseline,omitempty" bson:"baseline,omitempty"`
	Threshold        *float64   `json:"threshold,omitempty" bson:"threshold,omitempty"`
	ResetThreshold   *float64   `json:"reset_threshold,omitempty" bson:"reset_threshold,omitempty"`
	IsLeader         *bool      `json:"is_leader,omitempty" bson:"is_leader,omitempty"`
	RunEndTs         *time.Time `json:"run_end_ts,omitempty" bson:"run_end_ts,omitempty"`
	RunEndInferredTs *time.Time `json:"run_end_inferred_ts,omitempty" bson:"run_end_inferred_ts,omitempty"`
}

// RunRef is the soft pointer from a device to its active run.
type RunRef struct {
	BaseTs time.Time `json:"base_ts" bson:"base_ts"`
	RunKey *string   `json:"run_key,omitempty" bson:"run_key,omitempty"`
}

// Ref returns the soft pointer for r.
func (r Run) Ref() *RunRef {
	return &RunRef{BaseTs: r.BaseTs, RunKey: r.RunKey}
}
