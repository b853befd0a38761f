package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config contains application configuration.
type Config struct {
	Port                      string
	DatabaseURL               string
	JWTSecret                 string
	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string
	RabbitMQURL               string
	SeedAdminID               string
	Tracking                  Tracking
	Sweeper                   Sweeper
}

// Tracking holds the ingestion policy knobs
type Tracking struct {
	AccuracyThresholdMeters float64       `yaml:"accuracy_threshold_m"`
	MaxBatchSize            int           `yaml:"max_batch_size"`
	MaxHistoryPerBatch      int           `yaml:"max_history_per_batch"`
	MaxSpeedMPS             float64       `yaml:"max_speed_mps"`
	LowBatteryPercent       float64       `yaml:"low_battery_percent"`
	MovingSpeedMPS          float64       `yaml:"moving_speed_mps"`
	LowBatteryInterval      time.Duration `yaml:"low_battery_interval"`
	MovingInterval          time.Duration `yaml:"moving_interval"`
	IdleInterval            time.Duration `yaml:"idle_interval"`
	TakeoverEnabled         bool          `yaml:"takeover_enabled"`
}

// Sweeper holds the background job schedule
type Sweeper struct {
	Interval         time.Duration `yaml:"interval"`
	OfflineAfter     time.Duration `yaml:"offline_after"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type fileConfig struct {
	Tracking *Tracking `yaml:"tracking"`
	Sweeper  *Sweeper  `yaml:"sweeper"`
}

// DefaultTracking returns the tracking policy used when nothing is configured
func DefaultTracking() Tracking {
	return Tracking{
		AccuracyThresholdMeters: 30,
		MaxBatchSize:            500,
		MaxHistoryPerBatch:      50,
		MaxSpeedMPS:             500,
		LowBatteryPercent:       20,
		MovingSpeedMPS:          1,
		LowBatteryInterval:      120 * time.Second,
		MovingInterval:          15 * time.Second,
		IdleInterval:            60 * time.Second,
		TakeoverEnabled:         true,
	}
}

// DefaultSweeper returns the default background job schedule
func DefaultSweeper() Sweeper {
	return Sweeper{
		Interval:         time.Minute,
		OfflineAfter:     15 * time.Minute,
		HistoryRetention: 30 * 24 * time.Hour,
	}
}

// Load reads configuration from environment variables and .env.
// TRACKING_CONFIG_FILE may point to a YAML file; environment variables win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	}

	cfg := Config{
		Port:                      os.Getenv("PORT"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		JWTSecret:                 os.Getenv("APP_JWT_SECRET"),
		FirebaseCredentialsBase64: os.Getenv("FIREBASE_CREDENTIALS_BASE64"),
		FirebaseCredentialsFile:   os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		RabbitMQURL:               os.Getenv("RABBITMQ_URL"),
		SeedAdminID:               os.Getenv("SEED_ADMIN_ID"),
		Tracking:                  DefaultTracking(),
		Sweeper:                   DefaultSweeper(),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.FirebaseCredentialsFile == "" {
		cfg.FirebaseCredentialsFile = "./firebase-service-account.json"
	}

	if path := os.Getenv("TRACKING_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Tracking.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tracking config %s: %w", path, err)
	}

	fc := fileConfig{Tracking: &c.Tracking, Sweeper: &c.Sweeper}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse tracking config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	floats := map[string]*float64{
		"ACCURACY_THRESHOLD_M": &c.Tracking.AccuracyThresholdMeters,
		"MAX_SPEED_MPS":        &c.Tracking.MaxSpeedMPS,
		"LOW_BATTERY_PERCENT":  &c.Tracking.LowBatteryPercent,
		"MOVING_SPEED_MPS":     &c.Tracking.MovingSpeedMPS,
	}
	for key, dst := range floats {
		if v, ok := os.LookupEnv(key); ok {
			f, err := cast.ToFloat64E(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"MAX_BATCH_SIZE":        &c.Tracking.MaxBatchSize,
		"MAX_HISTORY_PER_BATCH": &c.Tracking.MaxHistoryPerBatch,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := cast.ToIntE(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	// Durations need a unit suffix ("90s", "15m")
	durations := map[string]*time.Duration{
		"LOW_BATTERY_INTERVAL": &c.Tracking.LowBatteryInterval,
		"MOVING_INTERVAL":      &c.Tracking.MovingInterval,
		"IDLE_INTERVAL":        &c.Tracking.IdleInterval,
		"SWEEP_INTERVAL":       &c.Sweeper.Interval,
		"OFFLINE_AFTER":        &c.Sweeper.OfflineAfter,
		"HISTORY_RETENTION":    &c.Sweeper.HistoryRetention,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok {
			d, err := cast.ToDurationE(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv("TAKEOVER_ENABLED"); ok {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("TAKEOVER_ENABLED: %w", err)
		}
		c.Tracking.TakeoverEnabled = b
	}
	return nil
}

// Validate rejects tracking policies the gateway cannot run with
func (t Tracking) Validate() error {
	switch {
	case t.AccuracyThresholdMeters <= 0:
		return fmt.Errorf("accuracy threshold must be positive, got %v", t.AccuracyThresholdMeters)
	case t.MaxBatchSize <= 0:
		return fmt.Errorf("max batch size must be positive, got %d", t.MaxBatchSize)
	case t.MaxHistoryPerBatch <= 0:
		return fmt.Errorf("max history per batch must be positive, got %d", t.MaxHistoryPerBatch)
	case t.LowBatteryInterval <= 0 || t.MovingInterval <= 0 || t.IdleInterval <= 0:
		return fmt.Errorf("poll intervals must be positive")
	}
	return nil
}
