package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	_ "github.com/lib/pq"
)

// ConnectPostgresWithTimeout opens a PostgreSQL pool and pings it within timeout
func ConnectPostgresWithTimeout(cfg *config.PostgresConfig, timeout time.Duration) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// Schema is the DDL applied by CreateTables, in order
var Schema = []string{
	// Create devices table
	`
		CREATE TABLE IF NOT EXISTS devices (
			id            TEXT PRIMARY KEY,
			last_seen     TIMESTAMPTZ,
			online        BOOLEAN NOT NULL DEFAULT FALSE,
			device_number INTEGER,
			meta          JSONB NOT NULL DEFAULT '{}'::jsonb
		);
	`,
	// Create runs table; one row per announced base
	`
		CREATE TABLE IF NOT EXISTS runs (
			id          BIGSERIAL PRIMARY KEY,
			device_id   TEXT NOT NULL,
			base_ts     TIMESTAMPTZ NOT NULL,
			run_key     TEXT,
			meta        JSONB NOT NULL DEFAULT '{}'::jsonb,
			UNIQUE (device_id, base_ts)
		);
	`,
	// Create samples table; duplicates are allowed
	`
		CREATE TABLE IF NOT EXISTS samples (
			id            BIGSERIAL PRIMARY KEY,
			device_id     TEXT NOT NULL,
			ts            TIMESTAMPTZ NOT NULL,
			device_number INTEGER NOT NULL,
			muon_count    BIGINT NOT NULL,
			adc_v         INTEGER NOT NULL,
			temp_adc_v    INTEGER NOT NULL,
			dt            BIGINT NOT NULL DEFAULT 0,
			wait_cnt      INTEGER NOT NULL,
			coincidence   BOOLEAN NOT NULL
		);
	`,
	// Create indexes
	`
		CREATE INDEX IF NOT EXISTS idx_samples_device_ts_count ON samples (device_id, ts, muon_count);
		CREATE INDEX IF NOT EXISTS idx_samples_ts_desc ON samples (ts DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_device_base_desc ON runs (device_id, base_ts DESC);
	`,
}

// CreateTables creates the required tables if they don't exist
func CreateTables(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, query := range Schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}
