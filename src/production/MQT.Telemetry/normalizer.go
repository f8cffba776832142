package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
)

// Fields are the coerced measurement fields of a telemetry payload.
type Fields struct {
	DeviceNumber int
	MuonCount    int64
	AdcV         int
	TempAdcV     int
	WaitCnt      int
	Coincidence  bool
}

// Normalizer validates payload fields and assembles the stored Sample.
type Normalizer struct{}

// Coerce reads the required fields. A missing field or one that does not
// convert fails with ErrMalformedMessage.
func (Normalizer) Coerce(p Payload) (Fields, error) {
	var (
		f   Fields
		err error
	)
	if f.DeviceNumber, err = requiredInt32(p, "device_number"); err != nil {
		return Fields{}, err
	}
	if f.MuonCount, err = requiredInt(p, "muon_count"); err != nil {
		return Fields{}, err
	}
	if f.AdcV, err = requiredInt32(p, "adc_v"); err != nil {
		return Fields{}, err
	}
	if f.TempAdcV, err = requiredInt32(p, "temp_adc_v"); err != nil {
		return Fields{}, err
	}
	if f.WaitCnt, err = requiredInt32(p, "wait_cnt"); err != nil {
		return Fields{}, err
	}
	v, ok := p["coincidence"]
	if !ok || v == nil {
		return Fields{}, malformed("coincidence is missing")
	}
	if f.Coincidence, err = coerceBool(v); err != nil {
		return Fields{}, malformed("coincidence: %v", err)
	}
	return f, nil
}

// Assemble builds the Sample persisted for one accepted message.
func (Normalizer) Assemble(deviceID string, res Resolution, f Fields) (mqtmodels.Sample, error) {
	if !ValidInstant(res.Ts) {
		return mqtmodels.Sample{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, res.Ts)
	}
	return mqtmodels.Sample{
		DeviceID:     deviceID,
		Ts:           res.Ts,
		DeviceNumber: f.DeviceNumber,
		MuonCount:    f.MuonCount,
		AdcV:         f.AdcV,
		TempAdcV:     f.TempAdcV,
		Dt:           int64(res.DtMs),
		WaitCnt:      f.WaitCnt,
		Coincidence:  f.Coincidence,
	}, nil
}

func requiredInt(p Payload, key string) (int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, malformed("%s is missing", key)
	}
	n, err := coerceInt(v)
	if err != nil {
		return 0, malformed("%s: %v", key, err)
	}
	return n, nil
}

// requiredInt32 is requiredInt for fields stored in 32-bit columns.
func requiredInt32(p Payload, key string) (int, error) {
	n, err := requiredInt(p, key)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, malformed("%s out of range: %d", key, n)
	}
	return int(n), nil
}

// coerceInt accepts integers, floats (truncated), booleans and decimal strings.
func coerceInt(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x.String())
		}
		return truncate(f)
	case float64:
		return truncate(x)
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func truncate(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("not a finite integer: %v", f)
	}
	return int64(f), nil
}

// coerceBool accepts booleans, numbers (truncated, non-zero is true) and the
// usual textual spellings.
func coerceBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "t", "yes", "y":
			return true, nil
		case "0", "false", "f", "no", "n":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", x)
	}
	if f, ok := toFloat(v); ok {
		return int64(f) != 0, nil
	}
	return false, fmt.Errorf("unsupported type %T", v)
}
