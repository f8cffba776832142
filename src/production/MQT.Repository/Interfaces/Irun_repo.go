package interfaces

import (
	"context"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
)

type RunRepository interface {
	// Upsert run keyed by (device_id, base_ts); re-announcing a base merges meta
	UpsertRun(ctx context.Context, run mqtmodels.Run) error

	// Read runs
	GetRun(ctx context.Context, deviceID string, baseTs time.Time) (*mqtmodels.Run, error)
	ListRuns(ctx context.Context, deviceID string) ([]mqtmodels.Run, error)
}
