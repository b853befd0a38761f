// Package livemap is the dispatcher-side live map: it reconciles the change feed and
// the fallback poll into per-driver markers, classifies liveness and eases marker
// movement between fixes.
package livemap

import (
	"time"

	"fleettrack-backend/internal/models"
)

// Liveness is the dispatcher-facing connection state of a driver
type Liveness string

const (
	LivenessActive  Liveness = "active"
	LivenessIdle    Liveness = "idle"
	LivenessOffline Liveness = "offline"
)

// Connected is true for active and idle drivers
func (l Liveness) Connected() bool {
	return l == LivenessActive || l == LivenessIdle
}

// Thresholds are measured from the last heartbeat, except Stale which is measured
// from the last position change
type Thresholds struct {
	Idle    time.Duration
	Offline time.Duration
	Stale   time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Idle:    5 * time.Minute,
		Offline: 15 * time.Minute,
		Stale:   10 * time.Minute,
	}
}

// Classify derives liveness from the lifecycle status and the time since lastSeen
func (t Thresholds) Classify(now time.Time, status models.DriverStatus, lastSeen time.Time) Liveness {
	if status.IsExplicitlyOffline() {
		return LivenessOffline
	}
	silent := now.Sub(lastSeen)
	switch {
	case silent >= t.Offline:
		return LivenessOffline
	case silent >= t.Idle:
		return LivenessIdle
	default:
		return LivenessActive
	}
}

// IsStale reports a connected driver whose position has not changed since movedAt
func (t Thresholds) IsStale(now time.Time, liveness Liveness, movedAt time.Time) bool {
	return liveness.Connected() && now.Sub(movedAt) >= t.Stale
}

// ClassifyDriver fills the Liveness and Stale fields of a snapshot row.
// Drivers without a fix are never stale.
func (t Thresholds) ClassifyDriver(now time.Time, d *models.LiveDriver) {
	liveness := t.Classify(now, d.Status, time.Unix(d.LastSeen, 0))
	d.Liveness = string(liveness)
	d.Stale = false
	if loc := d.CurrentLocation; loc != nil && loc.HasFix() {
		d.Stale = t.IsStale(now, liveness, time.Unix(loc.LastMoved(), 0))
	}
}
