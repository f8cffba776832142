package interfaces

import (
	"context"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
)

// SortOrder is the direction of the (ts, muon_count) ordering.
type SortOrder int

const (
	Descending SortOrder = iota
	Ascending
)

// SampleQueryParams selects the samples of one device. Start and End are inclusive.
type SampleQueryParams struct {
	DeviceID string
	Start    *time.Time
	End      *time.Time
	Order    SortOrder
	Limit    int // 0 means unbounded
	Offset   int // rows skipped before Limit applies
}

type SampleRepository interface {
	// Insert one sample; duplicates are stored as duplicate rows
	InsertSample(ctx context.Context, sample mqtmodels.Sample) error

	// Query ordered by ts then muon_count, both in params.Order direction
	ListSamples(ctx context.Context, params SampleQueryParams) ([]mqtmodels.Sample, error)
}
