package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
)

type PostgresSampleRepository struct {
	db *sql.DB
}

func NewPostgresSampleRepository(db *sql.DB) *PostgresSampleRepository {
	return &PostgresSampleRepository{db: db}
}

// Sample operations
func (r *PostgresSampleRepository) InsertSample(ctx context.Context, s mqtmodels.Sample) error {
	query := `
		INSERT INTO samples (device_id, ts, device_number, muon_count, adc_v, temp_adc_v, dt, wait_cnt, coincidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query, s.DeviceID, s.Ts.UTC(), s.DeviceNumber, s.MuonCount,
		s.AdcV, s.TempAdcV, s.Dt, s.WaitCnt, s.Coincidence)
	if err != nil {
		return fmt.Errorf("insert sample %s: %w", s.DeviceID, err)
	}
	return nil
}

func (r *PostgresSampleRepository) ListSamples(ctx context.Context, params interfaces.SampleQueryParams) ([]mqtmodels.Sample, error) {
	query, args := buildSampleQuery(params)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanSamples(rows)
}

func buildSampleQuery(params interfaces.SampleQueryParams) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT device_id, ts, device_number, muon_count, adc_v, temp_adc_v, dt, wait_cnt, coincidence FROM samples WHERE device_id = $1`)
	args := []any{params.DeviceID}

	if params.Start != nil {
		args = append(args, params.Start.UTC())
		fmt.Fprintf(&b, " AND ts >= $%d", len(args))
	}
	if params.End != nil {
		args = append(args, params.End.UTC())
		fmt.Fprintf(&b, " AND ts <= $%d", len(args))
	}

	if params.Order == interfaces.Ascending {
		b.WriteString(" ORDER BY ts ASC, muon_count ASC")
	} else {
		b.WriteString(" ORDER BY ts DESC, muon_count DESC")
	}

	if params.Limit > 0 {
		args = append(args, params.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func (r *PostgresSampleRepository) scanSamples(rows *sql.Rows) ([]mqtmodels.Sample, error) {
	var samples []mqtmodels.Sample

	for rows.Next() {
		var s mqtmodels.Sample

		if err := rows.Scan(&s.DeviceID, &s.Ts, &s.DeviceNumber, &s.MuonCount, &s.AdcV,
			&s.TempAdcV, &s.Dt, &s.WaitCnt, &s.Coincidence); err != nil {
			return nil, err
		}

		s.Ts = s.Ts.UTC()
		samples = append(samples, s)
	}

	return samples, rows.Err()
}
