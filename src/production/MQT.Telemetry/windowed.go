package telemetry

import (
	"cmp"
	"iter"
	"slices"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
)

// DefaultRollingWindow is the number of samples averaged by InstantRates.
const DefaultRollingWindow = 30

// CountPoint is one (ts, muon_count) observation. A zero Ts or a nil Count
// marks a missing value.
type CountPoint struct {
	Ts    time.Time
	Count *int64
	DtMs  float64
}

// PointsFromSamples converts stored samples, preserving their order.
func PointsFromSamples(samples []mqtmodels.Sample) []CountPoint {
	out := make([]CountPoint, len(samples))
	for i, s := range samples {
		c := s.MuonCount
		out[i] = CountPoint{Ts: s.Ts, Count: &c, DtMs: float64(s.Dt)}
	}
	return out
}

// BoxcarRates yields (t_i, rate_i) in Hz over a sliding window of length w.
// Points with a missing or pre-2000 value are dropped and the rest sorted by
// (ts, count). A point is skipped while its window reaches before the first
// point. The count at the window's left edge is interpolated linearly between
// its neighbours, and a negative delta (counter reset) is clamped to zero.
//
// The sequence is lazy and may be ranged over any number of times.
func BoxcarRates(points []CountPoint, w time.Duration) iter.Seq2[time.Time, float64] {
	return func(yield func(time.Time, float64) bool) {
		if w <= 0 {
			return
		}
		asc := sortedValid(points)
		if len(asc) == 0 {
			return
		}
		first := asc[0].ts
		secs := w.Seconds()
		l := 0
		for _, p := range asc {
			left := p.ts.Add(-w)
			if left.Before(first) {
				continue
			}
			for l+1 < len(asc) && !asc[l+1].ts.After(left) {
				l++
			}
			leftCount := float64(asc[l].count)
			if l+1 < len(asc) {
				next := asc[l+1]
				span := next.ts.Sub(asc[l].ts)
				if span > 0 {
					frac := float64(left.Sub(asc[l].ts)) / float64(span)
					leftCount += frac * float64(next.count-asc[l].count)
				}
			}
			rate := max(0, float64(p.count)-leftCount) / secs
			if !yield(p.ts, rate) {
				return
			}
		}
	}
}

type countAt struct {
	ts    time.Time
	count int64
}

func sortedValid(points []CountPoint) []countAt {
	out := make([]countAt, 0, len(points))
	for _, p := range points {
		if p.Count == nil || !ValidInstant(p.Ts) {
			continue
		}
		out = append(out, countAt{ts: p.Ts, count: *p.Count})
	}
	slices.SortStableFunc(out, func(a, b countAt) int {
		if c := a.ts.Compare(b.ts); c != 0 {
			return c
		}
		return cmp.Compare(a.count, b.count)
	})
	return out
}

// InstantRates computes, in the caller's order, the instant rate of each point
// and the mean of the defined instant rates over the trailing n points
// (DefaultRollingWindow when n <= 0). Both slices align with points; nil
// entries are undefined.
func InstantRates(points []CountPoint, n int) (instant, rolling []*float64) {
	if n <= 0 {
		n = DefaultRollingWindow
	}
	instant = make([]*float64, len(points))
	rolling = make([]*float64, len(points))

	var sum float64
	defined := 0
	for i := range points {
		instant[i] = instantRate(points, i)
		if instant[i] != nil {
			sum += *instant[i]
			defined++
		}
		if out := i - n; out >= 0 && instant[out] != nil {
			sum -= *instant[out]
			defined--
		}
		if defined > 0 {
			avg := sum / float64(defined)
			rolling[i] = &avg
		}
	}
	return instant, rolling
}

func instantRate(points []CountPoint, i int) *float64 {
	p := points[i]
	if i > 0 && !p.Ts.IsZero() && !points[i-1].Ts.IsZero() {
		if diff := p.Ts.Sub(points[i-1].Ts); diff > 0 {
			r := 1000.0 / (float64(diff) / float64(time.Millisecond))
			return &r
		}
	}
	if p.DtMs > 0 {
		r := 1000.0 / p.DtMs
		return &r
	}
	return nil
}
