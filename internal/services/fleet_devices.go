package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"fleettrack-backend/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const maxCodeAttempts = 5

// FleetDeviceStore is the part of LiveStore needed to administer fleet devices
type FleetDeviceStore interface {
	CreateFleetDevice(ctx context.Context, device *models.FleetDevice) error
	ListFleetDevices(ctx context.Context, adminID string) ([]models.FleetDevice, error)
}

// FleetDeviceService issues connection codes for an admin's seats
type FleetDeviceService struct {
	store    FleetDeviceStore
	clock    clock.Clock
	generate func() (string, error)
}

func NewFleetDeviceService(store FleetDeviceStore, clk clock.Clock) *FleetDeviceService {
	if clk == nil {
		clk = clock.New()
	}
	return &FleetDeviceService{store: store, clock: clk, generate: GenerateFleetCode}
}

// Create registers a new fleet device with a fresh unique code
func (s *FleetDeviceService) Create(ctx context.Context, adminID, name string) (*models.FleetDevice, error) {
	if adminID == "" {
		return nil, ErrNotAuthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "device name is required")
	}
	if len(name) > MaxDisplayNameLength {
		return nil, invalid("name", "device name must be at most %d characters", MaxDisplayNameLength)
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		device := &models.FleetDevice{
			ID:        uuid.NewString(),
			Code:      code,
			AdminID:   adminID,
			Name:      name,
			Status:    models.FleetDeviceDisconnected,
			CreatedAt: s.clock.Now().Unix(),
		}
		err = s.store.CreateFleetDevice(ctx, device)
		if errors.Is(err, models.ErrConflict) {
			log.Printf("⚠️  Fleet code collision on %s, regenerating (attempt %d)", code, attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create fleet device: %w", err)
		}

		log.Printf("✅ Fleet device %q created with code %s", name, code)
		return device, nil
	}
	return nil, fmt.Errorf("no free connection code after %d attempts: %w", maxCodeAttempts, models.ErrConflict)
}

// List returns the admin's devices
func (s *FleetDeviceService) List(ctx context.Context, adminID string) ([]models.FleetDevice, error) {
	devices, err := s.store.ListFleetDevices(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("list fleet devices: %w", err)
	}
	return devices, nil
}
