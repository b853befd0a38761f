package models

// Change feed message types
const (
	EventDriverLocationUpdate = "driver_location_update"
	EventDriverStatusUpdate   = "driver_status_update"
)

// FeedMessage is the envelope pushed to dispatchers over the change feed
type FeedMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// LocationUpdateEvent is published after a CurrentLocation upsert
type LocationUpdateEvent struct {
	DriverID  string   `json:"driver_id"`
	FleetCode string   `json:"fleet_code"`
	AdminID   string   `json:"-"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Timestamp int64    `json:"timestamp"`
	UpdatedAt int64    `json:"updated_at"`
}

// StatusUpdateEvent is published when a driver's lifecycle status or heartbeat changes
type StatusUpdateEvent struct {
	DriverID     string       `json:"driver_id"`
	DisplayName  string       `json:"display_name,omitempty"`
	FleetCode    string       `json:"fleet_code"`
	AdminID      string       `json:"-"`
	Status       DriverStatus `json:"status"`
	LastSeen     int64        `json:"last_seen"`
	DeviceStatus DeviceStatus `json:"device_status"`
	UpdatedAt    int64        `json:"updated_at"` // Driver row write time, unix seconds
}

// Notification events handed to the notifier collaborator
const (
	NotificationDriverJoined = "driver_joined"
)

// NotificationEvent is a fire-and-forget message for an admin
type NotificationEvent struct {
	Type        string `json:"type"`
	DriverID    string `json:"driver_id"`
	DisplayName string `json:"display_name"`
	FleetCode   string `json:"fleet_code"`
	DeviceName  string `json:"device_name"`
}
