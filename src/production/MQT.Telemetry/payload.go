package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// MinValidInstant is the earliest instant a resolved timestamp may carry.
var MinValidInstant = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// MaxValidInstant is the latest one. Later instants cannot be encoded as JSON
// or stored as TIMESTAMPTZ.
var MaxValidInstant = time.Date(9999, time.December, 31, 23, 59, 59, 999_999_999, time.UTC)

// Epoch numbers above this magnitude are milliseconds, below it seconds.
const epochMillisThreshold = 1e12

// Payload is one decoded telemetry message, field name to raw JSON value.
// Numbers are kept as json.Number so integer counters survive intact.
type Payload map[string]any

// DecodePayload parses a JSON object. Anything else is a malformed message.
func DecodePayload(b []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, malformed("payload is not a JSON object: %v", err)
	}
	if p == nil {
		return nil, malformed("payload is null")
	}
	return p, nil
}

// first returns the value of the first key that is present and non-null.
func (p Payload) first(keys ...string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

// ParseInstant accepts RFC3339/ISO-8601 strings (a trailing Z included, naive
// values are UTC) and epoch numbers in seconds or milliseconds. It does not
// apply the validity range; see ValidInstant.
func ParseInstant(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x.UTC(), !x.IsZero()
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if isDigits(s) {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return time.Time{}, false
			}
			return fromEpoch(f)
		}
		if t, err := iso8601.ParseString(strings.Replace(s, " ", "T", 1)); err == nil {
			return t.UTC(), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		return time.Time{}, false
	default:
		f, ok := toFloat(v)
		if !ok {
			return time.Time{}, false
		}
		return fromEpoch(f)
	}
}

// ValidInstant reports whether t lies within [MinValidInstant, MaxValidInstant].
func ValidInstant(t time.Time) bool {
	return !t.IsZero() && !t.Before(MinValidInstant) && !t.After(MaxValidInstant)
}

func fromEpoch(x float64) (time.Time, bool) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return time.Time{}, false
	}
	if math.Abs(x) > epochMillisThreshold {
		x /= 1000
	}
	if math.Abs(x) > math.MaxInt64/2 {
		return time.Time{}, false
	}
	sec, frac := math.Modf(x)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC().Round(time.Microsecond), true
}

// toFloat converts JSON numbers and numeric strings. Booleans are not numbers.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
