package telemetry

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
	"github.com/jonboulle/clockwork"
)

// ErrDeviceNotFound is returned for lookups of a device that never reported.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceView is a device as presented to readers, with a derived online flag.
type DeviceView struct {
	ID           string                   `json:"id"`
	Online       bool                     `json:"online"`
	DeviceNumber *int                     `json:"device_number"`
	LastSeen     *time.Time               `json:"last_seen"`
	CurrentRun   *mqtmodels.RunRef        `json:"current_run,omitempty"`
	Metrics      *mqtmodels.DeviceMetrics `json:"metrics,omitempty"`
}

// RunView is a run with its measured duration.
type RunView struct {
	mqtmodels.Run
	Active          bool     `json:"active"`
	DurationSeconds *float64 `json:"duration_s,omitempty"`
	EndKind         EndKind  `json:"end_kind,omitempty"`
}

// RatePoint is one boxcar rate.
type RatePoint struct {
	Ts     time.Time `json:"ts"`
	RateHz float64   `json:"rate_hz"`
}

// InstantPoint is one sample with its instant and rolling-average rate.
type InstantPoint struct {
	Ts        time.Time `json:"ts"`
	MuonCount int64     `json:"muon_count"`
	Dt        int64     `json:"dt"`
	InstHz    *float64  `json:"inst_hz"`
	RollingHz *float64  `json:"rolling_hz"`
}

// Window selects a time range of one device's samples. Nil bounds are open.
type Window struct {
	DeviceID string
	Start    *time.Time
	End      *time.Time
}

// QueryService is the read side used by the API. It never mutates storage.
type QueryService struct {
	store    interfaces.Store
	clock    clockwork.Clock
	cfg      config.QueryConfig
	pageSize int
}

// Rows fetched per round trip while streaming an export.
const exportPageSize = 1000

// NewQueryService creates a query service over store.
func NewQueryService(store interfaces.Store, clock clockwork.Clock, cfg config.QueryConfig) *QueryService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QueryService{store: store, clock: clock, cfg: cfg, pageSize: exportPageSize}
}

// Config returns the query defaults.
func (q *QueryService) Config() config.QueryConfig {
	return q.cfg
}

// ClampLimit maps a requested row limit into [1, MaxLimit]; zero selects the default.
func (q *QueryService) ClampLimit(n int) int {
	switch {
	case n == 0:
		return q.cfg.DefaultLimit
	case n < 1:
		return 1
	case n > q.cfg.MaxLimit:
		return q.cfg.MaxLimit
	}
	return n
}

// ListDevices returns every device ordered by id.
func (q *QueryService) ListDevices(ctx context.Context) ([]DeviceView, error) {
	devices, err := q.store.Devices.ListDevices(ctx)
	if err != nil {
		return nil, storageErr("list devices", err)
	}
	slices.SortFunc(devices, func(a, b mqtmodels.Device) int {
		return strings.Compare(a.ID, b.ID)
	})
	now := q.clock.Now()
	out := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceView(d, now))
	}
	return out, nil
}

// Device returns one device.
func (q *QueryService) Device(ctx context.Context, deviceID string) (*DeviceView, error) {
	d, err := q.store.Devices.GetDevice(ctx, deviceID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, storageErr("get device", err)
	}
	v := deviceView(*d, q.clock.Now())
	return &v, nil
}

func deviceView(d mqtmodels.Device, now time.Time) DeviceView {
	return DeviceView{
		ID:           d.ID,
		Online:       d.IsOnline(now),
		DeviceNumber: d.DeviceNumber,
		LastSeen:     d.LastSeen,
		CurrentRun:   d.Meta.CurrentRun,
		Metrics:      d.Meta.Metrics,
	}
}

// Runs returns the runs of a device ordered by base, newest first.
func (q *QueryService) Runs(ctx context.Context, deviceID string) ([]RunView, error) {
	runs, err := q.store.Runs.ListRuns(ctx, deviceID)
	if err != nil {
		return nil, storageErr("list runs", err)
	}
	var current *mqtmodels.RunRef
	if d, err := q.store.Devices.GetDevice(ctx, deviceID); err == nil {
		current = d.Meta.CurrentRun
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, storageErr("get device", err)
	}

	slices.SortFunc(runs, func(a, b mqtmodels.Run) int {
		return b.BaseTs.Compare(a.BaseTs)
	})
	out := make([]RunView, 0, len(runs))
	for _, r := range runs {
		v := RunView{Run: r, Active: current != nil && current.BaseTs.Equal(r.BaseTs)}
		if d, kind, ok := Duration(r); ok {
			secs := d.Seconds()
			v.DurationSeconds = &secs
			v.EndKind = kind
		}
		out = append(out, v)
	}
	return out, nil
}

// Samples returns the newest samples in w, at most limit rows after clamping.
func (q *QueryService) Samples(ctx context.Context, w Window, limit int) ([]mqtmodels.Sample, error) {
	return q.list(ctx, w, interfaces.Descending, q.ClampLimit(limit))
}

// Export returns the samples in w oldest first. Without any bound the export
// is capped at ExportCap rows.
func (q *QueryService) Export(ctx context.Context, w Window) ([]mqtmodels.Sample, error) {
	var out []mqtmodels.Sample
	for s, err := range q.ExportRows(ctx, w) {
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ExportRows yields the same rows as Export one page at a time, so a large
// window is never held in memory. A storage failure is yielded once and ends
// the sequence.
func (q *QueryService) ExportRows(ctx context.Context, w Window) iter.Seq2[mqtmodels.Sample, error] {
	limit := 0
	if w.Start == nil && w.End == nil {
		limit = q.cfg.ExportCap
	}
	return func(yield func(mqtmodels.Sample, error) bool) {
		offset := 0
		for limit <= 0 || offset < limit {
			size := q.pageSize
			if limit > 0 {
				size = min(size, limit-offset)
			}
			page, err := q.store.Samples.ListSamples(ctx, interfaces.SampleQueryParams{
				DeviceID: w.DeviceID,
				Start:    w.Start,
				End:      w.End,
				Order:    interfaces.Ascending,
				Limit:    size,
				Offset:   offset,
			})
			if err != nil {
				yield(mqtmodels.Sample{}, storageErr("list samples", err))
				return
			}
			for _, s := range page {
				if !yield(s, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
			offset += len(page)
		}
	}
}

// Boxcar returns the sliding-window rate series of w. A non-positive window
// selects the configured default.
func (q *QueryService) Boxcar(ctx context.Context, w Window, window time.Duration, limit int) ([]RatePoint, error) {
	if window <= 0 {
		window = q.cfg.BoxcarWindow
	}
	// Newest rows first so the limit keeps the recent end; BoxcarRates sorts.
	samples, err := q.list(ctx, w, interfaces.Descending, q.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	out := make([]RatePoint, 0, len(samples))
	for ts, rate := range BoxcarRates(PointsFromSamples(samples), window) {
		out = append(out, RatePoint{Ts: ts, RateHz: rate})
	}
	return out, nil
}

// Instant returns the newest samples of w in the requested order with their
// instant and rolling-average rates. Timestamp differences only yield a rate
// in ascending order; descending series fall back to dt. A non-positive n
// selects the configured default.
func (q *QueryService) Instant(ctx context.Context, w Window, order interfaces.SortOrder, limit, n int) ([]InstantPoint, error) {
	if n <= 0 {
		n = q.cfg.RollingWindow
	}
	samples, err := q.list(ctx, w, interfaces.Descending, q.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	if order == interfaces.Ascending {
		slices.Reverse(samples)
	}
	inst, rolling := InstantRates(PointsFromSamples(samples), n)
	out := make([]InstantPoint, len(samples))
	for i, s := range samples {
		out[i] = InstantPoint{
			Ts:        s.Ts,
			MuonCount: s.MuonCount,
			Dt:        s.Dt,
			InstHz:    inst[i],
			RollingHz: rolling[i],
		}
	}
	return out, nil
}

func (q *QueryService) list(ctx context.Context, w Window, order interfaces.SortOrder, limit int) ([]mqtmodels.Sample, error) {
	samples, err := q.store.Samples.ListSamples(ctx, interfaces.SampleQueryParams{
		DeviceID: w.DeviceID,
		Start:    w.Start,
		End:      w.End,
		Order:    order,
		Limit:    limit,
	})
	if err != nil {
		return nil, storageErr("list samples", err)
	}
	return samples, nil
}
