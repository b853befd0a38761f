package database

import (
	"context"
	"fmt"

	"fleettrack-backend/internal/models"

	"github.com/jmoiron/sqlx"
)

// fleetTx is the connect critical section, bound to one transaction
type fleetTx struct {
	tx *sqlx.Tx
}

func (t *fleetTx) GetFleetDevice(ctx context.Context, code string) (*models.FleetDevice, error) {
	var device models.FleetDevice
	err := t.tx.GetContext(ctx, &device,
		`SELECT `+fleetDeviceColumns+` FROM fleet_devices WHERE code = $1 FOR UPDATE`, code)
	if err != nil {
		return nil, mapError(err)
	}
	return &device, nil
}

func (t *fleetTx) FindDriverByFleetCode(ctx context.Context, code string) (*models.Driver, error) {
	return getDriver(ctx, t.tx, "d.fleet_code = $1", code)
}

func (t *fleetTx) CreateDriver(ctx context.Context, driver *models.Driver) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO drivers (id, display_name, fleet_code, status, last_seen, device_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, driver.ID, driver.DisplayName, driver.FleetCode, driver.Status, driver.LastSeen,
		driver.DeviceStatus, driver.CreatedAt, driver.UpdatedAt)
	if err != nil {
		return mapError(err)
	}

	// Placeholder so the live snapshot shows the driver as "connected, no location"
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO driver_current_location (driver_id, latitude, longitude, timestamp, updated_at, moved_at)
		VALUES ($1, 0, 0, 0, $2, $2)
		ON CONFLICT (driver_id) DO NOTHING
	`, driver.ID, driver.CreatedAt)
	if err != nil {
		return fmt.Errorf("create placeholder location: %w", mapError(err))
	}
	return nil
}

func (t *fleetTx) MarkDriverConnected(ctx context.Context, driverID, displayName string, now int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE drivers
		SET display_name = $2, status = 'active', last_seen = $3, updated_at = $3
		WHERE id = $1
	`, driverID, displayName, now)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (t *fleetTx) BindFleetDevice(ctx context.Context, deviceID, driverID string, now int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE fleet_devices
		SET connected_driver_id = $2, connected_at = $3, status = 'connected'
		WHERE id = $1
	`, deviceID, driverID, now)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}
