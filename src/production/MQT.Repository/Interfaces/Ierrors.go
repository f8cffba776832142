package interfaces

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get* lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store bundles the repositories of one storage backend.
type Store struct {
	Devices DeviceRepository
	Runs    RunRepository
	Samples SampleRepository

	// Ping checks backend connectivity; nil when the backend has nothing to ping
	Ping func(ctx context.Context) error
}
