package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// DriverStatus is the lifecycle status of a driver identity
type DriverStatus string

const (
	DriverStatusActive       DriverStatus = "active"
	DriverStatusOffline      DriverStatus = "offline"
	DriverStatusDisconnected DriverStatus = "disconnected"
)

// IsExplicitlyOffline reports whether the status was set by a disconnect or sweeper
func (s DriverStatus) IsExplicitlyOffline() bool {
	return s == DriverStatusOffline || s == DriverStatusDisconnected
}

// Driver is a mobile agent identity bound to a fleet code
type Driver struct {
	ID           string       `json:"id" db:"id"`
	DisplayName  string       `json:"display_name" db:"display_name"`
	FleetCode    string       `json:"fleet_code" db:"fleet_code"`
	Status       DriverStatus `json:"status" db:"status"`
	LastSeen     int64        `json:"last_seen" db:"last_seen"` // Server-side, unix seconds
	DeviceStatus DeviceStatus `json:"device_status" db:"device_status"`
	CreatedAt    int64        `json:"created_at" db:"created_at"`
	UpdatedAt    int64        `json:"updated_at" db:"updated_at"`

	// Owner of the fleet device, joined from fleet_devices
	AdminID string `json:"-" db:"admin_id"`
}

// DeviceStatus is the metadata blob merged on every heartbeat (stored as JSONB)
type DeviceStatus struct {
	BatteryLevel *float64 `json:"battery_level,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	IsBackground *bool    `json:"is_background,omitempty"`
	LastUpdate   int64    `json:"last_update,omitempty"`
}

// Merge overlays the non-empty fields of other onto s
func (s DeviceStatus) Merge(other DeviceStatus) DeviceStatus {
	if other.BatteryLevel != nil {
		s.BatteryLevel = other.BatteryLevel
	}
	if other.Heading != nil {
		s.Heading = other.Heading
	}
	if other.IsBackground != nil {
		s.IsBackground = other.IsBackground
	}
	if other.LastUpdate != 0 {
		s.LastUpdate = other.LastUpdate
	}
	return s
}

// Value implements driver.Valuer for the JSONB column
func (s DeviceStatus) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for the JSONB column
func (s *DeviceStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = DeviceStatus{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into DeviceStatus", src)
	}
}
