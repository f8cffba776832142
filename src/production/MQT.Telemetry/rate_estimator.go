package telemetry

import mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"

// EMAAlpha is the smoothing factor of the exponential rate estimate.
const EMAAlpha = 0.2

// RateEstimator folds successive dt values into a device's rate metrics.
// It keeps no state of its own; the metrics of each device live with the
// device entry of the state store.
type RateEstimator struct {
	alpha float64
}

// NewRateEstimator returns an estimator with EMAAlpha.
func NewRateEstimator() RateEstimator {
	return RateEstimator{alpha: EMAAlpha}
}

// Update applies one dt (milliseconds) to m and reports whether m changed.
// A dt of zero or less leaves both rates untouched.
func (e RateEstimator) Update(m *mqtmodels.DeviceMetrics, dtMs float64) bool {
	if dtMs <= 0 {
		return false
	}
	inst := 1000.0 / dtMs
	ema := inst
	if m.EmaRateHz != nil {
		ema = e.alpha*inst + (1-e.alpha)*(*m.EmaRateHz)
	}
	m.InstRateHz = &inst
	m.EmaRateHz = &ema
	return true
}
