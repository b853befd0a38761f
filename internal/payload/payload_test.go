package payload

import (
	"errors"
	"testing"
	"time"

	"fleettrack-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFlatSingle(t *testing.T) {
	report, err := Decode([]byte(`{
		"driver_id": "d-1", "fleet_code": "ab12cd",
		"latitude": 40.7128, "longitude": -74.006, "accuracy": 8.5,
		"speed": 3.2, "heading": 90, "battery_level": 77, "is_background": true,
		"timestamp": 1700000000000
	}`))
	require.NoError(t, err)

	assert.Equal(t, "d-1", report.DriverID)
	assert.Equal(t, "ab12cd", report.FleetCode)
	assert.Equal(t, models.ReportSingle, report.Kind)
	require.NotNil(t, report.Single.Latitude)
	assert.Equal(t, 40.7128, *report.Single.Latitude)
	assert.Equal(t, 77.0, *report.Single.BatteryLevel)
	assert.True(t, *report.Single.IsBackground)
	assert.Equal(t, int64(1700000000000), *report.Single.Timestamp)
}

func TestDecodeHeartbeatOnly(t *testing.T) {
	report, err := Decode([]byte(`{"driver_id": "d-1", "fleet_code": "AB12CD", "battery_level": 40}`))
	require.NoError(t, err)
	assert.Equal(t, models.ReportSingle, report.Kind)
	assert.Nil(t, report.Single.Latitude)
	assert.Nil(t, report.Single.Longitude)
}

func TestDecodeFlatBatch(t *testing.T) {
	report, err := Decode([]byte(`{
		"driver_id": "d-1", "fleet_code": "AB12CD",
		"locations": [
			{"latitude": 1, "longitude": 2, "timestamp": 1000},
			{"latitude": 3, "longitude": 4}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, models.ReportBatch, report.Kind)
	require.Len(t, report.Batch, 2)
	assert.Equal(t, 3.0, *report.Batch[1].Latitude)
	assert.Nil(t, report.Batch[1].Timestamp)
}

func TestDecodeEmptyBatch(t *testing.T) {
	report, err := Decode([]byte(`{"driver_id": "d-1", "fleet_code": "AB12CD", "locations": []}`))
	require.NoError(t, err)
	assert.Equal(t, models.ReportBatch, report.Kind)
	assert.Empty(t, report.Batch)
}

func TestDecodeVendorObject(t *testing.T) {
	report, err := Decode([]byte(`{
		"driver_id": "d-1", "fleet_code": "AB12CD",
		"location": {
			"coords": {"latitude": "40.5", "longitude": -73.9, "accuracy": 12, "speed": -1, "heading": -1},
			"battery": {"level": 0.42, "is_charging": false},
			"timestamp": "2026-03-02T09:00:00.250Z",
			"is_moving": true
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, models.ReportSingle, report.Kind)

	fix := report.Single
	assert.Equal(t, 40.5, *fix.Latitude)
	assert.Equal(t, -73.9, *fix.Longitude)
	assert.Equal(t, 12.0, *fix.Accuracy)
	assert.Nil(t, fix.Speed)
	assert.Nil(t, fix.Heading)
	assert.InDelta(t, 42.0, *fix.BatteryLevel, 1e-9)

	want := time.Date(2026, 3, 2, 9, 0, 0, 250_000_000, time.UTC).UnixMilli()
	assert.Equal(t, want, *fix.Timestamp)
}

func TestDecodeVendorUnknownBattery(t *testing.T) {
	report, err := Decode([]byte(`{"driver_id": "d", "fleet_code": "AB12CD",
		"location": {"coords": {"latitude": 1, "longitude": 2}, "battery": {"level": -1}, "timestamp": 1700000000000}}`))
	require.NoError(t, err)
	assert.Nil(t, report.Single.BatteryLevel)
	assert.Equal(t, int64(1700000000000), *report.Single.Timestamp)
}

func TestDecodeVendorArray(t *testing.T) {
	report, err := Decode([]byte(`{"driver_id": "d", "fleet_code": "AB12CD", "location": [
		{"coords": {"latitude": 1, "longitude": 2, "accuracy": 5}},
		{"coords": {"latitude": 3, "longitude": 4, "accuracy": 5}}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, models.ReportBatch, report.Kind)
	require.Len(t, report.Batch, 2)
	assert.Equal(t, 4.0, *report.Batch[1].Longitude)
}

func TestDecodeMalformed(t *testing.T) {
	bodies := map[string]string{
		"not json":         `{"driver_id": `,
		"locations object": `{"driver_id": "d", "locations": {"latitude": 1}}`,
		"location scalar":  `{"driver_id": "d", "location": 42}`,
		"bad coordinate":   `{"driver_id": "d", "location": {"coords": {"latitude": "north"}}}`,
		"bad timestamp":    `{"driver_id": "d", "location": {"coords": {}, "timestamp": "yesterday-ish"}}`,
		"string latitude":  `{"driver_id": "d", "latitude": "40"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}
