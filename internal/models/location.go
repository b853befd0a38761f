package models

// CurrentLocation is the single live marker row for a driver, overwritten on every valid fix
type CurrentLocation struct {
	DriverID  string   `json:"driver_id" db:"driver_id"`
	Latitude  float64  `json:"latitude" db:"latitude"`
	Longitude float64  `json:"longitude" db:"longitude"`
	Speed     *float64 `json:"speed,omitempty" db:"speed"`       // m/s
	Accuracy  *float64 `json:"accuracy,omitempty" db:"accuracy"` // meters
	Heading   *float64 `json:"heading,omitempty" db:"heading"`   // 0-360 degrees
	Timestamp int64    `json:"timestamp" db:"timestamp"`         // Client-side, unix ms
	UpdatedAt int64    `json:"updated_at" db:"updated_at"`       // Server-side, unix seconds
	MovedAt   int64    `json:"moved_at" db:"moved_at"`           // Server-side, last coordinate change
}

// LastMoved is when the coordinates last changed; rows written before moved_at
// existed fall back to UpdatedAt
func (l CurrentLocation) LastMoved() int64 {
	if l.MovedAt > 0 {
		return l.MovedAt
	}
	return l.UpdatedAt
}

// HasFix is false for the (0,0) placeholder written at first connect
func (l CurrentLocation) HasFix() bool {
	return l.Latitude != 0 || l.Longitude != 0
}

// LocationHistoryPoint is an immutable trail row, only written for accurate fixes
type LocationHistoryPoint struct {
	ID        int64    `json:"id" db:"id"`
	DriverID  string   `json:"driver_id" db:"driver_id"`
	FleetCode string   `json:"fleet_code" db:"fleet_code"`
	Latitude  float64  `json:"latitude" db:"latitude"`
	Longitude float64  `json:"longitude" db:"longitude"`
	Speed     *float64 `json:"speed,omitempty" db:"speed"`
	Accuracy  *float64 `json:"accuracy,omitempty" db:"accuracy"`
	Heading   *float64 `json:"heading,omitempty" db:"heading"`
	Timestamp int64    `json:"timestamp" db:"timestamp"`
	CreatedAt int64    `json:"created_at" db:"created_at"`
}

// LiveDriver is one row of the dispatcher snapshot
type LiveDriver struct {
	DriverID        string           `json:"driver_id" db:"driver_id"`
	DisplayName     string           `json:"display_name" db:"display_name"`
	FleetCode       string           `json:"fleet_code" db:"fleet_code"`
	Status          DriverStatus     `json:"status" db:"status"`
	LastSeen        int64            `json:"last_seen" db:"last_seen"`
	UpdatedAt       int64            `json:"updated_at" db:"updated_at"`
	DeviceStatus    DeviceStatus     `json:"device_status" db:"device_status"`
	CurrentLocation *CurrentLocation `json:"current_location,omitempty" db:"-"`
	Liveness        string           `json:"liveness" db:"-"`
	Stale           bool             `json:"stale" db:"-"`
}
