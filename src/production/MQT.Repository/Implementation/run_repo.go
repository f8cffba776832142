package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
)

type PostgresRunRepository struct {
	db *sql.DB
}

func NewPostgresRunRepository(db *sql.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

// Upsert run (idempotent on device_id, base_ts)
func (r *PostgresRunRepository) UpsertRun(ctx context.Context, run mqtmodels.Run) error {
	query := `
		INSERT INTO runs (device_id, base_ts, run_key, meta)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, base_ts)
		DO UPDATE SET run_key = COALESCE(EXCLUDED.run_key, runs.run_key),
		              meta = runs.meta || EXCLUDED.meta
	`

	metaJSON, err := marshalMeta(run.Meta)
	if err != nil {
		return err
	}

	var runKey sql.NullString
	if run.RunKey != nil {
		runKey = sql.NullString{String: *run.RunKey, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query, run.DeviceID, run.BaseTs.UTC(), runKey, metaJSON); err != nil {
		return fmt.Errorf("upsert run %s@%s: %w", run.DeviceID, run.BaseTs.Format(time.RFC3339Nano), err)
	}
	return nil
}

// Read runs
func (r *PostgresRunRepository) GetRun(ctx context.Context, deviceID string, baseTs time.Time) (*mqtmodels.Run, error) {
	query := `SELECT device_id, base_ts, run_key, meta FROM runs WHERE device_id = $1 AND base_ts = $2`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, deviceID, baseTs.UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (r *PostgresRunRepository) ListRuns(ctx context.Context, deviceID string) ([]mqtmodels.Run, error) {
	query := `SELECT device_id, base_ts, run_key, meta FROM runs WHERE device_id = $1 ORDER BY base_ts DESC`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []mqtmodels.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

func scanRun(row rowScanner) (*mqtmodels.Run, error) {
	var (
		run      mqtmodels.Run
		runKey   sql.NullString
		metaJSON []byte
	)

	if err := row.Scan(&run.DeviceID, &run.BaseTs, &runKey, &metaJSON); err != nil {
		return nil, err
	}
	if err := unmarshalMeta(metaJSON, &run.Meta); err != nil {
		return nil, err
	}

	run.BaseTs = run.BaseTs.UTC()
	run.RunKey = stringPtr(runKey)
	return &run, nil
}
