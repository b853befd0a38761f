package services

import (
	"time"

	"fleettrack-backend/internal/config"
	"fleettrack-backend/internal/models"
)

// NextPollInterval is the advisory cadence hint returned to the mobile client.
// Low battery wins over movement; a stationary or speed-less fix gets the idle interval.
func NextPollInterval(policy config.Tracking, battery, speed *float64) time.Duration {
	if battery != nil && *battery < policy.LowBatteryPercent {
		return policy.LowBatteryInterval
	}
	if speed != nil && *speed > policy.MovingSpeedMPS {
		return policy.MovingInterval
	}
	return policy.IdleInterval
}

func nextPollIntervalForFix(policy config.Tracking, fix models.Fix) time.Duration {
	return NextPollInterval(policy, fix.BatteryLevel, fix.Speed)
}
