package interfaces

import (
	"context"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
)

type DeviceRepository interface {
	// Upsert device by id; meta keys present on device overwrite stored ones
	UpsertDevice(ctx context.Context, device mqtmodels.Device) error

	// Mark device as seen without touching its meta (status heartbeats)
	TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error

	// Read devices
	GetDevice(ctx context.Context, deviceID string) (*mqtmodels.Device, error)
	ListDevices(ctx context.Context) ([]mqtmodels.Device, error)
}
