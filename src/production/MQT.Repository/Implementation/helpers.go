package implementation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Device Repository (upsert-only)
// ├── UpsertDevice() - Idempotent upsert, meta keys merged
// ├── TouchDevice() - Heartbeat, last_seen + online only
// ├── GetDevice() - Single device lookup
// └── ListDevices() - All devices by id

// Run Repository (upsert-only)
// ├── UpsertRun() - Idempotent upsert on (device_id, base_ts)
// ├── GetRun() - Single run lookup
// └── ListRuns() - Device's runs, newest base first

// Sample Repository (Time-Series, append-only)
// ├── InsertSample() - Single insert, duplicates kept
// └── ListSamples() - Range query ordered by (ts, muon_count)

// marshalMeta encodes a meta blob, never producing JSON null
func marshalMeta(meta any) ([]byte, error) {
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meta: %w", err)
	}
	if string(b) == "null" {
		return []byte("{}"), nil
	}
	return b, nil
}

// unmarshalMeta decodes a meta blob; an empty column decodes to the zero value
func unmarshalMeta(b []byte, meta any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, meta); err != nil {
		return fmt.Errorf("failed to unmarshal meta: %w", err)
	}
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
