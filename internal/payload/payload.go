// Package payload decodes location report bodies into models.LocationReport.
//
// Three shapes are accepted on the same endpoint:
//
//	{"driver_id", "fleet_code", "latitude", "longitude", ...}     single fix, flat
//	{"driver_id", "fleet_code", "locations": [{...}, ...]}          batch, flat fixes
//	{"driver_id", "fleet_code", "location": {...} | [{...}, ...]}   background-geolocation plugin
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"fleettrack-backend/internal/models"
)

// ErrMalformed is returned for bodies that are not valid JSON or use an unknown shape
var ErrMalformed = errors.New("malformed location payload")

type envelope struct {
	DriverID  string          `json:"driver_id"`
	FleetCode string          `json:"fleet_code"`
	Locations json.RawMessage `json:"locations"`
	Location  json.RawMessage `json:"location"`
	models.Fix
}

// Decode parses body and tags the report as single or batch
func Decode(body []byte) (models.LocationReport, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.LocationReport{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	report := models.LocationReport{
		DriverID:  env.DriverID,
		FleetCode: env.FleetCode,
	}

	switch {
	case present(env.Locations):
		var fixes []models.Fix
		if err := json.Unmarshal(env.Locations, &fixes); err != nil {
			return models.LocationReport{}, fmt.Errorf("%w: locations must be an array of fixes: %v", ErrMalformed, err)
		}
		report.Kind = models.ReportBatch
		report.Batch = fixes

	case present(env.Location):
		trimmed := bytes.TrimSpace(env.Location)
		switch trimmed[0] {
		case '{':
			fix, err := decodeVendor(trimmed)
			if err != nil {
				return models.LocationReport{}, err
			}
			report.Kind = models.ReportSingle
			report.Single = fix
		case '[':
			var raws []json.RawMessage
			if err := json.Unmarshal(trimmed, &raws); err != nil {
				return models.LocationReport{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			report.Kind = models.ReportBatch
			report.Batch = make([]models.Fix, 0, len(raws))
			for i, raw := range raws {
				fix, err := decodeVendor(raw)
				if err != nil {
					return models.LocationReport{}, fmt.Errorf("location[%d]: %w", i, err)
				}
				report.Batch = append(report.Batch, fix)
			}
		default:
			return models.LocationReport{}, fmt.Errorf("%w: location must be an object or an array", ErrMalformed)
		}

	default:
		report.Kind = models.ReportSingle
		report.Single = env.Fix
	}

	return report, nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
