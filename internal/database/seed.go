package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fleettrack-backend/internal/models"
	"fleettrack-backend/internal/services"

	"github.com/google/uuid"
)

var seedDeviceNames = []string{"Van 1", "Van 2", "Truck 1"}

// SeedFleetDevices gives adminID a few fleet devices to connect to when it has none
func SeedFleetDevices(ctx context.Context, store *Store, adminID string) error {
	var count int
	if err := store.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM fleet_devices WHERE admin_id = $1", adminID); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Fleet devices already seeded, skipping...")
		return nil
	}

	log.Printf("🌱 Seeding %d fleet devices for admin %s...", len(seedDeviceNames), adminID)

	for _, name := range seedDeviceNames {
		var created bool
		for attempt := 0; attempt < 5 && !created; attempt++ {
			code, err := services.GenerateFleetCode()
			if err != nil {
				return err
			}
			err = store.CreateFleetDevice(ctx, &models.FleetDevice{
				ID:        uuid.New().String(),
				Code:      code,
				AdminID:   adminID,
				Name:      name,
				Status:    models.FleetDeviceDisconnected,
				CreatedAt: time.Now().Unix(),
			})
			if errors.Is(err, models.ErrConflict) {
				continue
			}
			if err != nil {
				return fmt.Errorf("seed fleet device %q: %w", name, err)
			}
			log.Printf("   %s → code %s", name, code)
			created = true
		}
	}

	log.Println("✅ Fleet devices seeded")
	return nil
}
