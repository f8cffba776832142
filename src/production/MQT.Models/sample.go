package mqtmodels

import "time"

// Sample is one resolved telemetry event. Immutable once stored.
type Sample struct {
	DeviceID     string    `json:"device_id" bson:"device_id" db:"device_id"`
	Ts           time.Time `json:"ts" bson:"ts" db:"ts"`
	DeviceNumber int       `json:"device_number" bson:"device_number" db:"device_number"`
	MuonCount    int64     `json:"muon_count" bson:"muon_count" db:"muon_count"`
	AdcV         int       `json:"adc_v" bson:"adc_v" db:"adc_v"`
	TempAdcV     int       `json:"temp_adc_v" bson:"temp_adc_v" db:"temp_adc_v"`
	Dt           int64     `json:"dt" bson:"dt" db:"dt"`
	WaitCnt      int       `json:"wait_cnt" bson:"wait_cnt" db:"wait_cnt"`
	Coincidence  bool      `json:"coincidence" bson:"coincidence" db:"coincidence"`
}
