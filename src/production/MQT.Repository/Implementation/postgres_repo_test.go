package implementation

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
	"github.com/stretchr/testify/require"
)

// jsonHas matches a JSON argument containing the given top-level key.
type jsonHas string

func (k jsonHas) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return false
	}
	_, ok = m[string(k)]
	return ok
}

func TestPostgresDeviceUpsertMergesMeta(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresDeviceRepository(db)
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n := 7

	mock.ExpectExec(regexp.QuoteMeta("meta = devices.meta || EXCLUDED.meta")).
		WithArgs("dev-1", seen, true, int64(7), jsonHas("current_run")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.UpsertDevice(context.Background(), mqtmodels.Device{
		ID:           "dev-1",
		LastSeen:     &seen,
		Online:       true,
		DeviceNumber: &n,
		Meta: mqtmodels.DeviceMeta{
			CurrentRun: &mqtmodels.RunRef{BaseTs: seen},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeviceTouchLeavesMeta(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresDeviceRepository(db)
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DO UPDATE SET last_seen = EXCLUDED.last_seen, online = TRUE")).
		WithArgs("dev-1", seen).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.TouchDevice(context.Background(), "dev-1", seen))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeviceGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresDeviceRepository(db)
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "last_seen", "online", "device_number", "meta"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM devices WHERE id = $1")).
		WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("dev-1", seen, true, int64(3), []byte(`{"metrics":{"inst_rate_hz":2,"ema_rate_hz":1.2}}`)))

	d, err := repo.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, "dev-1", d.ID)
	require.True(t, d.LastSeen.Equal(seen))
	require.Equal(t, 3, *d.DeviceNumber)
	require.NotNil(t, d.Meta.Metrics)
	require.InDelta(t, 1.2, *d.Meta.Metrics.EmaRateHz, 1e-9)
	require.Nil(t, d.Meta.CurrentRun)

	mock.ExpectQuery(regexp.QuoteMeta("FROM devices WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(cols))

	_, err = repo.GetDevice(context.Background(), "ghost")
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunUpsertAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRunRepository(db)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := base.Add(time.Hour)
	key := "run-a"

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (device_id, base_ts)")).
		WithArgs("dev-1", base, "run-a", jsonHas("run_end_ts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.UpsertRun(context.Background(), mqtmodels.Run{
		DeviceID: "dev-1",
		BaseTs:   base,
		RunKey:   &key,
		Meta:     mqtmodels.RunMeta{RunEndTs: &end},
	})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE device_id = $1 ORDER BY base_ts DESC")).
		WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "base_ts", "run_key", "meta"}).
			AddRow("dev-1", end, nil, []byte(`{}`)).
			AddRow("dev-1", base, "run-a", []byte(`{"run_end_ts":"2024-05-01T01:00:00Z"}`)))

	runs, err := repo.ListRuns(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Nil(t, runs[0].RunKey)
	require.Equal(t, "run-a", *runs[1].RunKey)
	require.True(t, runs[1].Meta.RunEndTs.Equal(end))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE device_id = $1 AND base_ts = $2")).
		WithArgs("dev-1", base).
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "base_ts", "run_key", "meta"}))

	_, err = NewPostgresRunRepository(db).GetRun(context.Background(), "dev-1", base)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestBuildSampleQuery(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	q, args := buildSampleQuery(interfaces.SampleQueryParams{DeviceID: "dev-1"})
	require.Contains(t, q, "ORDER BY ts DESC, muon_count DESC")
	require.NotContains(t, q, "LIMIT")
	require.Equal(t, []any{"dev-1"}, args)

	q, args = buildSampleQuery(interfaces.SampleQueryParams{
		DeviceID: "dev-1",
		Start:    &start,
		End:      &end,
		Order:    interfaces.Ascending,
		Limit:    10,
	})
	require.Contains(t, q, "AND ts >= $2 AND ts <= $3")
	require.Contains(t, q, "ORDER BY ts ASC, muon_count ASC LIMIT $4")
	require.Equal(t, []any{"dev-1", start, end, 10}, args)

	q, args = buildSampleQuery(interfaces.SampleQueryParams{DeviceID: "dev-1", End: &end, Limit: 5})
	require.Contains(t, q, "AND ts <= $2")
	require.Contains(t, q, "LIMIT $3")
	require.NotContains(t, q, "OFFSET")
	require.Len(t, args, 3)

	q, args = buildSampleQuery(interfaces.SampleQueryParams{DeviceID: "dev-1", Order: interfaces.Ascending, Limit: 1000, Offset: 2000})
	require.Contains(t, q, "ORDER BY ts ASC, muon_count ASC LIMIT $2 OFFSET $3")
	require.Equal(t, []any{"dev-1", 1000, 2000}, args)
}

func TestPostgresSampleInsertAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresSampleRepository(db)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := mqtmodels.Sample{DeviceID: "dev-1", Ts: ts, DeviceNumber: 1, MuonCount: 42, AdcV: 512, TempAdcV: 300, Dt: 1000, WaitCnt: 2, Coincidence: true}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO samples")).
		WithArgs("dev-1", ts, 1, int64(42), 512, 300, int64(1000), 2, true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.InsertSample(context.Background(), s))

	cols := []string{"device_id", "ts", "device_number", "muon_count", "adc_v", "temp_adc_v", "dt", "wait_cnt", "coincidence"}
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY ts ASC, muon_count ASC")).
		WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("dev-1", ts, 1, 42, 512, 300, 1000, 2, true).
			AddRow("dev-1", ts.Add(time.Second), 1, 43, 510, 301, 1000, 2, false))

	got, err := repo.ListSamples(context.Background(), interfaces.SampleQueryParams{DeviceID: "dev-1", Order: interfaces.Ascending})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, s, got[0])
	require.Equal(t, int64(43), got[1].MuonCount)
	require.NoError(t, mock.ExpectationsWereMet())
}
