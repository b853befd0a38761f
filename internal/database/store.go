package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fleettrack-backend/internal/models"
	"fleettrack-backend/internal/services"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Store is the Postgres implementation of the service store interfaces
type Store struct {
	db *sqlx.DB
}

var (
	_ services.IdentityStore    = (*Store)(nil)
	_ services.LocationStore    = (*Store)(nil)
	_ services.LiveStore        = (*Store)(nil)
	_ services.TokenStore       = (*Store)(nil)
	_ services.SweeperStore     = (*Store)(nil)
	_ services.FleetDeviceStore = (*Store)(nil)
)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for diagnostics
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// mapError translates driver errors into the models sentinels
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", models.ErrConflict, pqErr.Constraint)
	}
	return err
}

const driverColumns = `
	d.id, d.display_name, d.fleet_code, d.status, d.last_seen, d.device_status,
	d.created_at, d.updated_at, COALESCE(f.admin_id, '') AS admin_id`

const fleetDeviceColumns = `
	id, code, admin_id, name, connected_driver_id, connected_at, status, created_at`

func getDriver(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*models.Driver, error) {
	var d models.Driver
	query := `SELECT ` + driverColumns + `
		FROM drivers d
		LEFT JOIN fleet_devices f ON f.code = d.fleet_code
		WHERE ` + where
	if err := sqlx.GetContext(ctx, q, &d, query, arg); err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (s *Store) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	return getDriver(ctx, s.db, "d.id = $1", driverID)
}

func (s *Store) GetFleetDeviceByCode(ctx context.Context, code string) (*models.FleetDevice, error) {
	var device models.FleetDevice
	err := s.db.GetContext(ctx, &device, `SELECT `+fleetDeviceColumns+` FROM fleet_devices WHERE code = $1`, code)
	if err != nil {
		return nil, mapError(err)
	}
	return &device, nil
}

// WithFleetLock runs fn in a transaction. The first GetFleetDevice call inside fn takes a
// row lock on the device, serializing concurrent connects for the same code.
func (s *Store) WithFleetLock(ctx context.Context, code string, fn func(tx services.FleetTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&fleetTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) DisconnectDriver(ctx context.Context, driverID string, now int64) (*models.Driver, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	driver, err := getDriver(ctx, tx, "d.id = $1 FOR UPDATE OF d", driverID)
	if err != nil {
		return nil, false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE fleet_devices
		SET connected_driver_id = NULL, status = 'disconnected'
		WHERE connected_driver_id = $1
	`, driverID)
	if err != nil {
		return nil, false, fmt.Errorf("release fleet device: %w", err)
	}
	released, _ := res.RowsAffected()

	changed := driver.Status != models.DriverStatusOffline || released > 0
	if changed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE drivers SET status = 'offline', updated_at = $2 WHERE id = $1
		`, driverID, now); err != nil {
			return nil, false, fmt.Errorf("mark driver offline: %w", err)
		}
		driver.Status = models.DriverStatusOffline
		driver.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return driver, changed, nil
}

const upsertLocationQuery = `
	INSERT INTO driver_current_location (
		driver_id, latitude, longitude, heading, speed, accuracy, timestamp, updated_at, moved_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	ON CONFLICT (driver_id)
	DO UPDATE SET
		moved_at = CASE
			WHEN driver_current_location.latitude IS DISTINCT FROM EXCLUDED.latitude
			  OR driver_current_location.longitude IS DISTINCT FROM EXCLUDED.longitude
			THEN EXCLUDED.updated_at
			ELSE driver_current_location.moved_at
		END,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		heading = EXCLUDED.heading,
		speed = EXCLUDED.speed,
		accuracy = EXCLUDED.accuracy,
		timestamp = EXCLUDED.timestamp,
		updated_at = EXCLUDED.updated_at`

// upsertLocationSQL returns the current location upsert; the guarded form never
// replaces a row carrying a newer client timestamp
func upsertLocationSQL(onlyIfNewer bool) string {
	if !onlyIfNewer {
		return upsertLocationQuery
	}
	return upsertLocationQuery + `
	WHERE driver_current_location.timestamp <= EXCLUDED.timestamp`
}

func (s *Store) UpsertCurrentLocation(ctx context.Context, loc models.CurrentLocation, onlyIfNewer bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, upsertLocationSQL(onlyIfNewer),
		loc.DriverID, loc.Latitude, loc.Longitude, loc.Heading, loc.Speed, loc.Accuracy, loc.Timestamp, loc.UpdatedAt)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) InsertHistory(ctx context.Context, points []models.LocationHistoryPoint) error {
	if len(points) == 0 {
		return nil
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO location_history (
			driver_id, fleet_code, latitude, longitude, heading, speed, accuracy, timestamp, created_at
		) VALUES (
			:driver_id, :fleet_code, :latitude, :longitude, :heading, :speed, :accuracy, :timestamp, :created_at
		)`, points)
	return mapError(err)
}

// Absent DeviceStatus fields are omitted from the JSON, so jsonb || keeps their previous values
const heartbeatQuery = `
	UPDATE drivers
	SET status = 'active',
	    last_seen = $2,
	    updated_at = $2,
	    device_status = device_status || $3::jsonb
	WHERE id = $1`

// TouchHeartbeat marks the driver active and merges meta into device_status
func (s *Store) TouchHeartbeat(ctx context.Context, driverID string, meta models.DeviceStatus, now int64) error {
	res, err := s.db.ExecContext(ctx, heartbeatQuery, driverID, now, meta)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

type liveRow struct {
	DriverID     string              `db:"driver_id"`
	DisplayName  string              `db:"display_name"`
	FleetCode    string              `db:"fleet_code"`
	Status       models.DriverStatus `db:"status"`
	LastSeen     int64               `db:"last_seen"`
	RowUpdated   int64               `db:"driver_updated_at"`
	DeviceStatus models.DeviceStatus `db:"device_status"`
	Latitude     sql.NullFloat64     `db:"latitude"`
	Longitude    sql.NullFloat64     `db:"longitude"`
	Speed        *float64            `db:"speed"`
	Accuracy     *float64            `db:"accuracy"`
	Heading      *float64            `db:"heading"`
	Timestamp    sql.NullInt64       `db:"timestamp"`
	UpdatedAt    sql.NullInt64       `db:"updated_at"`
	MovedAt      sql.NullInt64       `db:"moved_at"`
}

func (s *Store) ListLiveDrivers(ctx context.Context, adminID string) ([]models.LiveDriver, error) {
	var rows []liveRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT d.id AS driver_id, d.display_name, d.fleet_code, d.status, d.last_seen,
		       d.updated_at AS driver_updated_at, d.device_status,
		       l.latitude, l.longitude, l.speed, l.accuracy, l.heading, l.timestamp, l.updated_at, l.moved_at
		FROM drivers d
		JOIN fleet_devices f ON f.code = d.fleet_code
		LEFT JOIN driver_current_location l ON l.driver_id = d.id
		WHERE f.admin_id = $1
		ORDER BY d.display_name
	`, adminID)
	if err != nil {
		return nil, mapError(err)
	}

	drivers := make([]models.LiveDriver, 0, len(rows))
	for _, r := range rows {
		live := models.LiveDriver{
			DriverID:     r.DriverID,
			DisplayName:  r.DisplayName,
			FleetCode:    r.FleetCode,
			Status:       r.Status,
			LastSeen:     r.LastSeen,
			UpdatedAt:    r.RowUpdated,
			DeviceStatus: r.DeviceStatus,
		}
		if r.Latitude.Valid && r.Longitude.Valid {
			live.CurrentLocation = &models.CurrentLocation{
				DriverID:  r.DriverID,
				Latitude:  r.Latitude.Float64,
				Longitude: r.Longitude.Float64,
				Speed:     r.Speed,
				Accuracy:  r.Accuracy,
				Heading:   r.Heading,
				Timestamp: r.Timestamp.Int64,
				UpdatedAt: r.UpdatedAt.Int64,
				MovedAt:   r.MovedAt.Int64,
			}
		}
		drivers = append(drivers, live)
	}
	return drivers, nil
}

// GetDriverHistory returns the newest limit points at or after since (client ms), oldest first
func (s *Store) GetDriverHistory(ctx context.Context, adminID, driverID string, since int64, limit int) ([]models.LocationHistoryPoint, error) {
	var owned bool
	err := s.db.GetContext(ctx, &owned, `
		SELECT EXISTS (
			SELECT 1 FROM drivers d
			JOIN fleet_devices f ON f.code = d.fleet_code
			WHERE d.id = $1 AND f.admin_id = $2
		)
	`, driverID, adminID)
	if err != nil {
		return nil, mapError(err)
	}
	if !owned {
		return nil, models.ErrNotFound
	}

	var limitArg sql.NullInt64
	if limit > 0 {
		limitArg = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	points := []models.LocationHistoryPoint{}
	err = s.db.SelectContext(ctx, &points, `
		SELECT * FROM (
			SELECT id, driver_id, fleet_code, latitude, longitude, speed, accuracy, heading, timestamp, created_at
			FROM location_history
			WHERE driver_id = $1 AND timestamp >= $2
			ORDER BY timestamp DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY timestamp ASC, id ASC
	`, driverID, since, limitArg)
	if err != nil {
		return nil, mapError(err)
	}
	return points, nil
}

func (s *Store) CreateFleetDevice(ctx context.Context, device *models.FleetDevice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fleet_devices (id, code, admin_id, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, device.ID, device.Code, device.AdminID, device.Name, device.Status, device.CreatedAt)
	return mapError(err)
}

func (s *Store) ListFleetDevices(ctx context.Context, adminID string) ([]models.FleetDevice, error) {
	devices := []models.FleetDevice{}
	err := s.db.SelectContext(ctx, &devices,
		`SELECT `+fleetDeviceColumns+` FROM fleet_devices WHERE admin_id = $1 ORDER BY created_at, code`, adminID)
	if err != nil {
		return nil, mapError(err)
	}
	return devices, nil
}

func (s *Store) RegisterFCMToken(ctx context.Context, userID, token, deviceType string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			device_type = excluded.device_type,
			updated_at = excluded.updated_at
	`, userID, token, deviceType, now)
	return mapError(err)
}

func (s *Store) GetFCMTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := s.db.SelectContext(ctx, &tokens,
		`SELECT token FROM fcm_tokens WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return tokens, nil
}

func (s *Store) MarkSilentDriversOffline(ctx context.Context, silentSince, now int64) ([]models.Driver, error) {
	var drivers []models.Driver
	err := s.db.SelectContext(ctx, &drivers, `
		UPDATE drivers d
		SET status = 'offline', updated_at = $2
		FROM fleet_devices f
		WHERE f.code = d.fleet_code
		  AND d.status = 'active'
		  AND d.last_seen < $1
		RETURNING `+driverColumns, silentSince, now)
	if err != nil {
		return nil, mapError(err)
	}
	return drivers, nil
}

func (s *Store) PruneHistory(ctx context.Context, before int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM location_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}
