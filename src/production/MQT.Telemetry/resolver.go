package telemetry

import (
	"math"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	"github.com/jonboulle/clockwork"
)

// Names of the resolution strategies, in the order they are tried.
const (
	SourceTs        = "ts"
	SourceTimestamp = "timestamp"
	SourceEndTime   = "end_time"
	SourceRunBaseDt = "run_base+dt"
	SourceNow       = "now"
)

// Strategy produces a candidate instant for a payload or reports that it has none.
type Strategy struct {
	Name    string
	Resolve func(p Payload, run *mqtmodels.Run) (time.Time, bool)
}

// Resolution is the outcome of resolving one payload.
type Resolution struct {
	Ts     time.Time
	DtMs   float64
	Source string
}

// DefaultStrategies returns the field-based strategies. The wall-clock fallback
// is appended by the Resolver since it depends on its clock.
func DefaultStrategies() []Strategy {
	return []Strategy{
		fieldStrategy(SourceTs),
		fieldStrategy(SourceTimestamp),
		fieldStrategy(SourceEndTime),
		{Name: SourceRunBaseDt, Resolve: fromRunBase},
	}
}

func fieldStrategy(key string) Strategy {
	return Strategy{
		Name: key,
		Resolve: func(p Payload, _ *mqtmodels.Run) (time.Time, bool) {
			return ParseInstant(p[key])
		},
	}
}

func fromRunBase(p Payload, run *mqtmodels.Run) (time.Time, bool) {
	if run == nil || run.BaseTs.IsZero() {
		return time.Time{}, false
	}
	dt, ok := ParseDt(p)
	if !ok {
		return time.Time{}, false
	}
	return run.BaseTs.Add(time.Duration(dt * float64(time.Millisecond))), true
}

// MaxDtMs is the largest dt accepted, the longest offset a time.Duration holds.
const MaxDtMs = float64(math.MaxInt64 / int64(time.Millisecond))

// ParseDt reads the relative "dt" field in milliseconds. Missing, non-numeric,
// negative and out-of-range values report false.
func ParseDt(p Payload) (float64, bool) {
	v, ok := p["dt"]
	if !ok || v == nil {
		return 0, false
	}
	if _, isBool := v.(bool); isBool {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok || f < 0 || f > MaxDtMs {
		return 0, false
	}
	return f, true
}

// Resolver turns heterogeneous device timestamps into one absolute instant.
// It has no side effects.
type Resolver struct {
	clock      clockwork.Clock
	strategies []Strategy
}

// NewResolver builds a resolver over DefaultStrategies followed by the clock.
func NewResolver(clock clockwork.Clock) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &Resolver{clock: clock}
	r.strategies = append(DefaultStrategies(), Strategy{
		Name: SourceNow,
		Resolve: func(Payload, *mqtmodels.Run) (time.Time, bool) {
			return r.clock.Now().UTC(), true
		},
	})
	return r
}

// Strategies returns the ordered strategy names.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name
	}
	return names
}

// Resolve walks the strategies and returns the first valid instant. Instants
// outside [MinValidInstant, MaxValidInstant] count as absent and the chain
// falls through.
func (r *Resolver) Resolve(p Payload, run *mqtmodels.Run) Resolution {
	dt, _ := ParseDt(p)
	for _, s := range r.strategies {
		ts, ok := s.Resolve(p, run)
		if !ok || !ValidInstant(ts) {
			continue
		}
		return Resolution{Ts: ts.UTC(), DtMs: dt, Source: s.Name}
	}
	return Resolution{Ts: r.clock.Now().UTC(), DtMs: dt, Source: SourceNow}
}
