package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("🔌 DATABASE CONNECTION ATTEMPT")
	log.Printf("   📍 Database URL length: %d characters", len(dbURL))
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Println("❌ DATABASE CONNECTION FAILED")
		log.Printf("   Error type: %T", err)
		log.Printf("   Error message: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		log.Println("❌ DATABASE PING FAILED")
		log.Printf("   Error message: %v", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ DATABASE CONNECTION SUCCESSFUL")
	return db, nil
}

// Tables lists the tables created by Migrate, in creation order
var Tables = []string{
	"fleet_devices",
	"drivers",
	"driver_current_location",
	"location_history",
	"fcm_tokens",
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Admin-owned seats; connected_driver_id is the device pointer
		`CREATE TABLE IF NOT EXISTS fleet_devices (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE CHECK (code ~ '^[A-Z0-9]{6}$'),
			admin_id TEXT NOT NULL,
			name TEXT NOT NULL,
			connected_driver_id TEXT,
			connected_at BIGINT,
			status TEXT NOT NULL DEFAULT 'disconnected' CHECK(status IN ('connected', 'disconnected')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// One driver per fleet code, enforced by the unique constraint
		`CREATE TABLE IF NOT EXISTS drivers (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			fleet_code TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'offline', 'disconnected')),
			last_seen BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			device_status JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (fleet_code) REFERENCES fleet_devices(code) ON UPDATE CASCADE
		)`,

		// Exactly 1 row per driver, updated via UPSERT. (0,0) means "no fix yet".
		`CREATE TABLE IF NOT EXISTS driver_current_location (
			driver_id TEXT PRIMARY KEY,
			latitude DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
			longitude DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
			heading DOUBLE PRECISION,
			speed DOUBLE PRECISION,
			accuracy DOUBLE PRECISION,
			timestamp BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			moved_at BIGINT NOT NULL DEFAULT 0,
			FOREIGN KEY (driver_id) REFERENCES drivers(id) ON DELETE CASCADE
		)`,
		// moved_at only advances when the coordinates change (stuck-GPS detection)
		`ALTER TABLE driver_current_location ADD COLUMN IF NOT EXISTS moved_at BIGINT NOT NULL DEFAULT 0`,

		// Append-only trail of accurate fixes
		`CREATE TABLE IF NOT EXISTS location_history (
			id BIGSERIAL PRIMARY KEY,
			driver_id TEXT NOT NULL,
			fleet_code TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			heading DOUBLE PRECISION,
			speed DOUBLE PRECISION,
			accuracy DOUBLE PRECISION,
			timestamp BIGINT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (driver_id) REFERENCES drivers(id) ON DELETE CASCADE
		)`,

		// Push tokens for admins (user ids come from the external auth service)
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android', 'web')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Device pointer must reference a real driver
		`DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM information_schema.table_constraints
						   WHERE constraint_name='fleet_devices_connected_driver_id_fkey' AND table_name='fleet_devices') THEN
				ALTER TABLE fleet_devices ADD CONSTRAINT fleet_devices_connected_driver_id_fkey
					FOREIGN KEY (connected_driver_id) REFERENCES drivers(id) ON DELETE SET NULL;
			END IF;
		END $$`,

		// Create indexes
		`CREATE INDEX IF NOT EXISTS idx_fleet_devices_admin_id ON fleet_devices(admin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_drivers_status_last_seen ON drivers(status, last_seen)`,
		`CREATE INDEX IF NOT EXISTS idx_location_history_driver_ts ON location_history(driver_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_location_history_created_at ON location_history(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("✓ Database migrations completed")
	return nil
}
