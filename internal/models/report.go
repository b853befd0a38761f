package models

// Fix is a single GPS sample in canonical form. Every field is optional on the wire.
type Fix struct {
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Speed        *float64 `json:"speed"`
	Accuracy     *float64 `json:"accuracy"`
	Heading      *float64 `json:"heading"`
	BatteryLevel *float64 `json:"battery_level"`
	IsBackground *bool    `json:"is_background"`
	Timestamp    *int64   `json:"timestamp"` // unix ms
}

// Meta extracts the device metadata carried by the fix
func (f Fix) Meta() DeviceStatus {
	return DeviceStatus{
		BatteryLevel: f.BatteryLevel,
		Heading:      f.Heading,
		IsBackground: f.IsBackground,
	}
}

// ReportKind tags which variant of LocationReport is populated
type ReportKind int

const (
	ReportSingle ReportKind = iota + 1
	ReportBatch
)

func (k ReportKind) String() string {
	switch k {
	case ReportSingle:
		return "single"
	case ReportBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// LocationReport is the decoded body of a location report: exactly one of Single or Batch
type LocationReport struct {
	DriverID  string
	FleetCode string
	Kind      ReportKind
	Single    Fix
	Batch     []Fix
}
