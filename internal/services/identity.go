package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fleettrack-backend/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// ConnectOutcome says which branch of Connect ran
type ConnectOutcome string

const (
	OutcomeCreated     ConnectOutcome = "created"
	OutcomeReconnected ConnectOutcome = "reconnected"
	OutcomeTakeover    ConnectOutcome = "takeover"
)

// ConnectRequest is the input to IdentityRegistry.Connect
type ConnectRequest struct {
	FleetCode        string
	DisplayName      string
	ExistingDriverID string
}

// ConnectResult is the identity the caller must use from now on
type ConnectResult struct {
	Driver      *models.Driver
	FleetDevice *models.FleetDevice
	Outcome     ConnectOutcome
}

// Reconnected is true for both same-identity reconnects and takeovers
func (r *ConnectResult) Reconnected() bool {
	return r.Outcome != OutcomeCreated
}

// ConnectionState is the read-only answer of GetConnectionState
type ConnectionState struct {
	Connected   bool
	Driver      *models.Driver
	FleetDevice *models.FleetDevice
}

// IdentityRegistry binds driver identities to fleet codes
type IdentityRegistry struct {
	store           IdentityStore
	notifier        Notifier
	publisher       Publisher
	clock           clock.Clock
	takeoverEnabled bool
}

// NewIdentityRegistry creates a registry. takeoverEnabled selects the rebind policy for a
// code already bound to a different identity; when false such connects are rejected.
func NewIdentityRegistry(store IdentityStore, notifier Notifier, publisher Publisher, clk clock.Clock, takeoverEnabled bool) *IdentityRegistry {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if publisher == nil {
		publisher = Publishers{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &IdentityRegistry{
		store:           store,
		notifier:        notifier,
		publisher:       publisher,
		clock:           clk,
		takeoverEnabled: takeoverEnabled,
	}
}

// Connect resolves the binding for a fleet code: first connect creates a driver, the bound
// identity reconnects idempotently, and any other identity takes over the bound driver.
func (r *IdentityRegistry) Connect(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	code, err := NormalizeFleetCode(req.FleetCode)
	if err != nil {
		return nil, err
	}
	name, err := ValidateDisplayName(req.DisplayName)
	if err != nil {
		return nil, err
	}

	var result *ConnectResult
	for attempt := 1; attempt <= 2; attempt++ {
		result, err = r.connectOnce(ctx, code, name, req.ExistingDriverID)
		if !errors.Is(err, models.ErrConflict) {
			break
		}
		// Another request created the driver for this code between our read and insert;
		// the unique constraint caught it, so the retry resolves as a reconnect.
		log.Printf("⚠️  Concurrent first connect on code %s, retrying as reconnect (attempt %d)", code, attempt)
	}
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case OutcomeCreated:
		log.Printf("✅ New driver %s (%s) joined fleet device %s", result.Driver.ID, name, code)
		r.notifier.Notify(models.NotificationEvent{
			Type:        models.NotificationDriverJoined,
			DriverID:    result.Driver.ID,
			DisplayName: result.Driver.DisplayName,
			FleetCode:   code,
			DeviceName:  result.FleetDevice.Name,
		}, result.FleetDevice.AdminID)
	case OutcomeTakeover:
		log.Printf("🔁 Takeover on code %s: caller reconnected as existing driver %s", code, result.Driver.ID)
	default:
		log.Printf("🔌 Driver %s reconnected on code %s", result.Driver.ID, code)
	}

	r.publisher.PublishStatus(ctx, statusEvent(result.Driver))
	return result, nil
}

func (r *IdentityRegistry) connectOnce(ctx context.Context, code, name, existingID string) (*ConnectResult, error) {
	var result *ConnectResult

	err := r.store.WithFleetLock(ctx, code, func(tx FleetTx) error {
		device, err := tx.GetFleetDevice(ctx, code)
		if errors.Is(err, models.ErrNotFound) {
			return ErrFleetCodeNotFound
		}
		if err != nil {
			return fmt.Errorf("load fleet device: %w", err)
		}

		now := r.clock.Now().Unix()
		outcome := OutcomeReconnected

		driver, err := tx.FindDriverByFleetCode(ctx, code)
		switch {
		case errors.Is(err, models.ErrNotFound):
			driver = &models.Driver{
				ID:          uuid.NewString(),
				DisplayName: name,
				FleetCode:   code,
				Status:      models.DriverStatusActive,
				LastSeen:    now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.CreateDriver(ctx, driver); err != nil {
				return err
			}
			outcome = OutcomeCreated
		case err != nil:
			return fmt.Errorf("load bound driver: %w", err)
		case existingID != "" && existingID == driver.ID:
			outcome = OutcomeReconnected
		default:
			if !r.takeoverEnabled {
				return ErrTakeoverRejected
			}
			outcome = OutcomeTakeover
		}

		if outcome != OutcomeCreated {
			if err := tx.MarkDriverConnected(ctx, driver.ID, name, now); err != nil {
				return fmt.Errorf("mark driver connected: %w", err)
			}
			driver.DisplayName = name
			driver.Status = models.DriverStatusActive
			driver.LastSeen = now
			driver.UpdatedAt = now
		}

		if err := tx.BindFleetDevice(ctx, device.ID, driver.ID, now); err != nil {
			return fmt.Errorf("bind fleet device: %w", err)
		}
		driverID := driver.ID
		device.ConnectedDriverID = &driverID
		device.ConnectedAt = &now
		device.Status = models.FleetDeviceConnected
		driver.AdminID = device.AdminID

		result = &ConnectResult{Driver: driver, FleetDevice: device, Outcome: outcome}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Disconnect marks the driver offline and releases its fleet device. Unknown or already
// offline identities succeed without error.
func (r *IdentityRegistry) Disconnect(ctx context.Context, driverID string) error {
	if driverID == "" {
		return invalid("driver_id", "driver id is required")
	}

	driver, changed, err := r.store.DisconnectDriver(ctx, driverID, r.clock.Now().Unix())
	if errors.Is(err, models.ErrNotFound) {
		log.Printf("⚠️  Disconnect for unknown driver %s, nothing to do", driverID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("disconnect driver: %w", err)
	}

	if changed {
		log.Printf("🔴 Driver %s disconnected (last position preserved)", driverID)
		r.publisher.PublishStatus(ctx, statusEvent(driver))
	}
	return nil
}

// GetConnectionState reports whether driverID is bound and active. It never writes and
// never returns an error for unknown identities.
func (r *IdentityRegistry) GetConnectionState(ctx context.Context, driverID string) (*ConnectionState, error) {
	if driverID == "" {
		return &ConnectionState{}, nil
	}

	driver, err := r.store.GetDriver(ctx, driverID)
	if errors.Is(err, models.ErrNotFound) {
		return &ConnectionState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load driver: %w", err)
	}
	if driver.Status != models.DriverStatusActive {
		return &ConnectionState{Driver: driver}, nil
	}

	device, err := r.store.GetFleetDeviceByCode(ctx, driver.FleetCode)
	if errors.Is(err, models.ErrNotFound) {
		return &ConnectionState{Driver: driver}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load fleet device: %w", err)
	}
	if !device.IsConnectedTo(driver.ID) {
		return &ConnectionState{Driver: driver}, nil
	}

	return &ConnectionState{Connected: true, Driver: driver, FleetDevice: device}, nil
}

// ValidateIdentity returns the driver only if it is recorded as bound to exactly code.
// Unknown identities, unknown codes and mismatches all yield ErrNotAuthorized.
func (r *IdentityRegistry) ValidateIdentity(ctx context.Context, driverID, code string) (*models.Driver, error) {
	normalized, err := NormalizeFleetCode(code)
	if err != nil || driverID == "" {
		return nil, ErrNotAuthorized
	}

	driver, err := r.store.GetDriver(ctx, driverID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("load driver: %w", err)
	}
	if driver.FleetCode != normalized {
		return nil, ErrNotAuthorized
	}
	return driver, nil
}

// Now returns the registry clock's time, reported back to clients as server_time
func (r *IdentityRegistry) Now() time.Time {
	return r.clock.Now()
}
