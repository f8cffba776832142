package telemetry

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	implementation "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Implementation"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var testQueryConfig = config.QueryConfig{
	DefaultLimit:  500,
	MaxLimit:      20000,
	ExportCap:     3,
	BoxcarWindow:  10 * time.Second,
	RollingWindow: 30,
}

func seedSamples(t *testing.T, mem *implementation.MemoryStore, deviceID string, n int) time.Time {
	t.Helper()
	t0 := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, mem.InsertSample(context.Background(), mqtmodels.Sample{
			DeviceID:  deviceID,
			Ts:        t0.Add(time.Duration(i) * time.Second),
			MuonCount: int64(i),
			Dt:        1000,
		}))
	}
	return t0
}

func TestQueryOrderingIsReversible(t *testing.T) {
	ctx := context.Background()
	mem := implementation.NewMemoryStore()
	q := NewQueryService(mem.Store(), clockwork.NewFakeClockAt(fixedNow), testQueryConfig)
	seedSamples(t, mem, "dev-1", 5)

	desc, err := q.Samples(ctx, Window{DeviceID: "dev-1"}, 0)
	require.NoError(t, err)
	asc, err := mem.ListSamples(ctx, interfaces.SampleQueryParams{DeviceID: "dev-1", Order: interfaces.Ascending})
	require.NoError(t, err)

	reversed := slices.Clone(asc)
	slices.Reverse(reversed)
	require.Equal(t, reversed, desc)
}

func TestQueryClampLimit(t *testing.T) {
	q := NewQueryService(implementation.NewMemoryStore().Store(), nil, testQueryConfig)
	require.Equal(t, 500, q.ClampLimit(0))
	require.Equal(t, 1, q.ClampLimit(-7))
	require.Equal(t, 20000, q.ClampLimit(50000))
	require.Equal(t, 42, q.ClampLimit(42))
}

func TestQueryExportCapOnlyWhenUnbounded(t *testing.T) {
	ctx := context.Background()
	mem := implementation.NewMemoryStore()
	q := NewQueryService(mem.Store(), nil, testQueryConfig)
	t0 := seedSamples(t, mem, "dev-1", 5)

	rows, err := q.Export(ctx, Window{DeviceID: "dev-1"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, int64(0), rows[0].MuonCount)

	rows, err = q.Export(ctx, Window{DeviceID: "dev-1", Start: &t0})
	require.NoError(t, err)
	require.Len(t, rows, 5)
}

func TestQueryExportRowsPages(t *testing.T) {
	ctx := context.Background()
	mem := implementation.NewMemoryStore()
	q := NewQueryService(mem.Store(), nil, testQueryConfig)
	q.pageSize = 2
	t0 := seedSamples(t, mem, "dev-1", 5)

	var got []int64
	for s, err := range q.ExportRows(ctx, Window{DeviceID: "dev-1", Start: &t0}) {
		require.NoError(t, err)
		got = append(got, s.MuonCount)
	}
	require.Equal(t, []int64{0, 1, 2, 3, 4}, got)

	got = nil
	for s, err := range q.ExportRows(ctx, Window{DeviceID: "dev-1"}) {
		require.NoError(t, err)
		got = append(got, s.MuonCount)
	}
	require.Equal(t, []int64{0, 1, 2}, got, "unbounded export stops at the cap")

	got = nil
	for s := range q.ExportRows(ctx, Window{DeviceID: "dev-1", Start: &t0}) {
		got = append(got, s.MuonCount)
		if len(got) == 3 {
			break
		}
	}
	require.Equal(t, []int64{0, 1, 2}, got)
}

func TestQueryExportRowsStorageFailure(t *testing.T) {
	mem := implementation.NewMemoryStore()
	q := NewQueryService(mem.Store(), nil, testQueryConfig)
	mem.SetFailure(errors.New("connection reset"))

	calls := 0
	for _, err := range q.ExportRows(context.Background(), Window{DeviceID: "dev-1"}) {
		calls++
		require.ErrorIs(t, err, ErrStorageUnavailable)
	}
	require.Equal(t, 1, calls)
}

func TestQueryDevicesDeriveOnline(t *testing.T) {
	ctx := context.Background()
	mem := implementation.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(fixedNow)
	q := NewQueryService(mem.Store(), clock, testQueryConfig)

	require.NoError(t, mem.TouchDevice(ctx, "b", fixedNow.Add(-time.Minute)))
	require.NoError(t, mem.TouchDevice(ctx, "a", fixedNow.Add(-10*time.Minute)))

	devices, err := q.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	require.Equal(t, "a", devices[0].ID)
	require.False(t, devices[0].Online)
	require.True(t, devices[1].Online)

	clock.Advance(5 * time.Minute)
	d, err := q.Device(ctx, "b")
	require.NoError(t, err)
	require.False(t, d.Online)

	_, err = q.Device(ctx, "zzz")
	require.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestQueryRunsReportDuration(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine()
	q := NewQueryService(mem.Store(), nil, testQueryConfig)

	_, err := e.HandleTelemetry(ctx, "dev-1", payload(t, countBody(1, `"run_base_ts":"2024-04-01T08:00:00Z","dt":0`)))
	require.NoError(t, err)
	_, err = e.HandleTelemetry(ctx, "dev-1", payload(t, countBody(2, `"dt":30000`)))
	require.NoError(t, err)
	_, err = e.HandleTelemetry(ctx, "dev-1", payload(t, countBody(1, `"run_base_ts":"2024-04-01T09:00:00Z"`)))
	require.NoError(t, err)

	runs, err := q.Runs(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	require.True(t, runs[0].Active)
	require.Equal(t, EndInferred, runs[0].EndKind)

	require.False(t, runs[1].Active)
	require.Equal(t, EndExplicit, runs[1].EndKind)
	require.Equal(t, 3600.0, *runs[1].DurationSeconds)
}

func TestQueryRateSeries(t *testing.T) {
	ctx := context.Background()
	mem := implementation.NewMemoryStore()
	q := NewQueryService(mem.Store(), nil, testQueryConfig)
	seedSamples(t, mem, "dev-1", 21)

	boxcar, err := q.Boxcar(ctx, Window{DeviceID: "dev-1"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, boxcar, 11)
	for _, p := range boxcar {
		require.InDelta(t, 1.0, p.RateHz, 1e-9)
	}
	require.True(t, boxcar[0].Ts.Before(boxcar[1].Ts))

	inst, err := q.Instant(ctx, Window{DeviceID: "dev-1"}, interfaces.Ascending, 0, 5)
	require.NoError(t, err)
	require.Len(t, inst, 21)
	require.Equal(t, 1.0, *inst[0].InstHz)
	require.Equal(t, 1.0, *inst[20].RollingHz)
}

func TestQueryInstantUsesTimestampGapsAscending(t *testing.T) {
	ctx := context.Background()
	mem := implementation.NewMemoryStore()
	q := NewQueryService(mem.Store(), nil, testQueryConfig)

	t0 := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, mem.InsertSample(ctx, mqtmodels.Sample{
			DeviceID:  "dev-1",
			Ts:        t0.Add(time.Duration(i) * 500 * time.Millisecond),
			MuonCount: int64(i),
		}))
	}

	asc, err := q.Instant(ctx, Window{DeviceID: "dev-1"}, interfaces.Ascending, 2, 5)
	require.NoError(t, err)
	require.Len(t, asc, 2)
	require.Equal(t, int64(1), asc[0].MuonCount, "limit keeps the newest rows")
	require.Nil(t, asc[0].InstHz)
	require.NotNil(t, asc[1].InstHz)
	require.InDelta(t, 2.0, *asc[1].InstHz, 1e-9)

	desc, err := q.Instant(ctx, Window{DeviceID: "dev-1"}, interfaces.Descending, 0, 5)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	require.Equal(t, int64(2), desc[0].MuonCount)
	for _, p := range desc {
		require.Nil(t, p.InstHz)
	}
}
