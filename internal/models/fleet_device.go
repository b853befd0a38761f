package models

// Fleet device connection states
const (
	FleetDeviceConnected    = "connected"
	FleetDeviceDisconnected = "disconnected"
)

// FleetDevice is an admin-owned driver seat reachable through a short connection code.
// ConnectedDriverID is the device pointer: the identity currently using the seat.
type FleetDevice struct {
	ID                string  `json:"id" db:"id"`
	Code              string  `json:"code" db:"code"`
	AdminID           string  `json:"admin_id" db:"admin_id"`
	Name              string  `json:"name" db:"name"`
	ConnectedDriverID *string `json:"connected_driver_id,omitempty" db:"connected_driver_id"`
	ConnectedAt       *int64  `json:"connected_at,omitempty" db:"connected_at"`
	Status            string  `json:"status" db:"status"`
	CreatedAt         int64   `json:"created_at" db:"created_at"`
}

// IsConnectedTo reports whether the device pointer references driverID
func (d *FleetDevice) IsConnectedTo(driverID string) bool {
	return d.ConnectedDriverID != nil && *d.ConnectedDriverID == driverID
}
