package services

import (
	"context"

	"fleettrack-backend/internal/models"
)

// FleetTx is the store as seen from inside a per-fleet-code critical section.
// Implementations must serialize callers for the same code (row lock or mutex).
type FleetTx interface {
	GetFleetDevice(ctx context.Context, code string) (*models.FleetDevice, error)
	FindDriverByFleetCode(ctx context.Context, code string) (*models.Driver, error)
	// CreateDriver inserts the driver and its placeholder current location.
	// Returns models.ErrConflict when the fleet code already has a driver.
	CreateDriver(ctx context.Context, driver *models.Driver) error
	MarkDriverConnected(ctx context.Context, driverID, displayName string, now int64) error
	BindFleetDevice(ctx context.Context, deviceID, driverID string, now int64) error
}

// IdentityStore backs the identity registry
type IdentityStore interface {
	WithFleetLock(ctx context.Context, code string, fn func(tx FleetTx) error) error
	GetDriver(ctx context.Context, driverID string) (*models.Driver, error)
	GetFleetDeviceByCode(ctx context.Context, code string) (*models.FleetDevice, error)
	// DisconnectDriver marks the driver offline and clears any device pointer to it.
	// changed is false when the driver was already offline.
	DisconnectDriver(ctx context.Context, driverID string, now int64) (driver *models.Driver, changed bool, err error)
}

// LocationStore backs the ingestion gateway
type LocationStore interface {
	// UpsertCurrentLocation overwrites the driver's live marker. With onlyIfNewer the write
	// is skipped when the stored client timestamp is newer; applied reports the outcome.
	UpsertCurrentLocation(ctx context.Context, loc models.CurrentLocation, onlyIfNewer bool) (applied bool, err error)
	InsertHistory(ctx context.Context, points []models.LocationHistoryPoint) error
	TouchHeartbeat(ctx context.Context, driverID string, meta models.DeviceStatus, now int64) error
}

// LiveStore backs the dispatcher endpoints
type LiveStore interface {
	ListLiveDrivers(ctx context.Context, adminID string) ([]models.LiveDriver, error)
	GetDriverHistory(ctx context.Context, adminID, driverID string, since int64, limit int) ([]models.LocationHistoryPoint, error)
	CreateFleetDevice(ctx context.Context, device *models.FleetDevice) error
	ListFleetDevices(ctx context.Context, adminID string) ([]models.FleetDevice, error)
	RegisterFCMToken(ctx context.Context, userID, token, deviceType string, now int64) error
}

// TokenStore resolves push tokens for a notification recipient
type TokenStore interface {
	GetFCMTokens(ctx context.Context, userID string) ([]string, error)
}

// SweeperStore backs the background jobs
type SweeperStore interface {
	MarkSilentDriversOffline(ctx context.Context, silentSince, now int64) ([]models.Driver, error)
	PruneHistory(ctx context.Context, before int64) (int64, error)
}
