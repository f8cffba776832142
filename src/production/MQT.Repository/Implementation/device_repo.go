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

type PostgresDeviceRepository struct {
	db *sql.DB
}

func NewPostgresDeviceRepository(db *sql.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

// Upsert device (idempotent); meta keys present on device overwrite stored ones
func (r *PostgresDeviceRepository) UpsertDevice(ctx context.Context, device mqtmodels.Device) error {
	query := `
		INSERT INTO devices (id, last_seen, online, device_number, meta)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET last_seen = EXCLUDED.last_seen, online = EXCLUDED.online,
		              device_number = COALESCE(EXCLUDED.device_number, devices.device_number),
		              meta = devices.meta || EXCLUDED.meta
	`

	metaJSON, err := marshalMeta(device.Meta)
	if err != nil {
		return err
	}

	var deviceNumber sql.NullInt64
	if device.DeviceNumber != nil {
		deviceNumber = sql.NullInt64{Int64: int64(*device.DeviceNumber), Valid: true}
	}
	var lastSeen sql.NullTime
	if device.LastSeen != nil {
		lastSeen = sql.NullTime{Time: device.LastSeen.UTC(), Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query, device.ID, lastSeen, device.Online, deviceNumber, metaJSON); err != nil {
		return fmt.Errorf("upsert device %s: %w", device.ID, err)
	}
	return nil
}

// Mark device as seen (status heartbeat); meta is left as is
func (r *PostgresDeviceRepository) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	query := `
		INSERT INTO devices (id, last_seen, online, meta)
		VALUES ($1, $2, TRUE, '{}'::jsonb)
		ON CONFLICT (id)
		DO UPDATE SET last_seen = EXCLUDED.last_seen, online = TRUE
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, seenAt.UTC()); err != nil {
		return fmt.Errorf("touch device %s: %w", deviceID, err)
	}
	return nil
}

// Read devices
func (r *PostgresDeviceRepository) GetDevice(ctx context.Context, deviceID string) (*mqtmodels.Device, error) {
	query := `SELECT id, last_seen, online, device_number, meta FROM devices WHERE id = $1`

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	return device, nil
}

func (r *PostgresDeviceRepository) ListDevices(ctx context.Context) ([]mqtmodels.Device, error) {
	query := `SELECT id, last_seen, online, device_number, meta FROM devices ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []mqtmodels.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}

	return devices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*mqtmodels.Device, error) {
	var (
		device       mqtmodels.Device
		lastSeen     sql.NullTime
		deviceNumber sql.NullInt64
		metaJSON     []byte
	)

	if err := row.Scan(&device.ID, &lastSeen, &device.Online, &deviceNumber, &metaJSON); err != nil {
		return nil, err
	}
	if err := unmarshalMeta(metaJSON, &device.Meta); err != nil {
		return nil, err
	}

	device.LastSeen = timePtr(lastSeen)
	device.DeviceNumber = intPtr(deviceNumber)
	return &device, nil
}
