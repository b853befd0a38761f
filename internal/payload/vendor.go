package payload

import (
	"encoding/json"
	"fmt"

	"fleettrack-backend/internal/models"

	"github.com/spf13/cast"
)

// vendorLocation is one record as posted by the background-geolocation plugin.
// Numbers arrive as JSON numbers or strings depending on platform, hence interface{}.
type vendorLocation struct {
	Coords struct {
		Latitude  interface{} `json:"latitude"`
		Longitude interface{} `json:"longitude"`
		Accuracy  interface{} `json:"accuracy"`
		Speed     interface{} `json:"speed"`
		Heading   interface{} `json:"heading"`
	} `json:"coords"`
	Battery struct {
		Level interface{} `json:"level"`
	} `json:"battery"`
	Timestamp    interface{} `json:"timestamp"`
	IsBackground *bool       `json:"is_background"`
}

func decodeVendor(raw json.RawMessage) (models.Fix, error) {
	var v vendorLocation
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.Fix{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var fix models.Fix
	var err error
	if fix.Latitude, err = optionalFloat("coords.latitude", v.Coords.Latitude); err != nil {
		return models.Fix{}, err
	}
	if fix.Longitude, err = optionalFloat("coords.longitude", v.Coords.Longitude); err != nil {
		return models.Fix{}, err
	}
	if fix.Accuracy, err = optionalFloat("coords.accuracy", v.Coords.Accuracy); err != nil {
		return models.Fix{}, err
	}
	if fix.Speed, err = optionalFloat("coords.speed", v.Coords.Speed); err != nil {
		return models.Fix{}, err
	}
	if fix.Heading, err = optionalFloat("coords.heading", v.Coords.Heading); err != nil {
		return models.Fix{}, err
	}

	// The plugin reports -1 for unknown speed, heading and accuracy
	fix.Accuracy = dropNegative(fix.Accuracy)
	fix.Speed = dropNegative(fix.Speed)
	fix.Heading = dropNegative(fix.Heading)

	level, err := optionalFloat("battery.level", v.Battery.Level)
	if err != nil {
		return models.Fix{}, err
	}
	if level = dropNegative(level); level != nil {
		percent := *level * 100
		fix.BatteryLevel = &percent
	}

	if fix.Timestamp, err = optionalMillis(v.Timestamp); err != nil {
		return models.Fix{}, err
	}
	fix.IsBackground = v.IsBackground

	return fix, nil
}

func optionalFloat(field string, v interface{}) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, field, err)
	}
	return &f, nil
}

// optionalMillis accepts unix milliseconds or an ISO-8601 string
func optionalMillis(v interface{}) (*int64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		parsed, err := cast.ToTimeE(t)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
		ms := parsed.UnixMilli()
		return &ms, nil
	default:
		ms, err := cast.ToInt64E(v)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
		return &ms, nil
	}
}

func dropNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}
