package websocket

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	geo "github.com/kellydunn/golang-geo"
)

const (
	// MinPositionDelta is the minimum distance (meters) for a significant position change.
	// Points closer than this to the last broadcast position are skipped.
	MinPositionDelta = 1.0

	// MaxTimeSinceLastBroadcast forces a broadcast even if the driver hasn't moved
	// MinPositionDelta, so stopped drivers still refresh on the dispatcher map
	MaxTimeSinceLastBroadcast = 2 * time.Second
)

// FeedThrottle filters location broadcasts by position delta with a time-based fallback
type FeedThrottle struct {
	lastPositions map[string]lastBroadcast
	mutex         sync.Mutex
	clock         clock.Clock
	stats         ThrottleStats
}

type lastBroadcast struct {
	point *geo.Point
	at    time.Time
}

// ThrottleStats tracks how many location events were forwarded
type ThrottleStats struct {
	TotalEvents    int64 `json:"total_events"`
	SkippedByDelta int64 `json:"skipped_by_delta"`
	Broadcast      int64 `json:"broadcast"`
}

// NewFeedThrottle creates a throttle; clk may be nil for the wall clock
func NewFeedThrottle(clk clock.Clock) *FeedThrottle {
	if clk == nil {
		clk = clock.New()
	}
	return &FeedThrottle{
		lastPositions: make(map[string]lastBroadcast),
		clock:         clk,
	}
}

// Allow reports whether a position update for driverID should be broadcast, and
// records it as the last broadcast position when it should
func (t *FeedThrottle) Allow(driverID string, lat, lng float64) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.stats.TotalEvents++
	now := t.clock.Now()
	point := geo.NewPoint(lat, lng)

	last, exists := t.lastPositions[driverID]
	if exists {
		distance := last.point.GreatCircleDistance(point) * 1000
		if distance < MinPositionDelta && now.Sub(last.at) <= MaxTimeSinceLastBroadcast {
			t.stats.SkippedByDelta++
			return false
		}
	}

	t.lastPositions[driverID] = lastBroadcast{point: point, at: now}
	t.stats.Broadcast++
	return true
}

// ClearDriver removes the stored position for a driver (call on disconnect)
func (t *FeedThrottle) ClearDriver(driverID string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	delete(t.lastPositions, driverID)
}

// GetStats returns throttle statistics
func (t *FeedThrottle) GetStats() map[string]interface{} {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	skipRate := 0.0
	if t.stats.TotalEvents > 0 {
		skipRate = float64(t.stats.SkippedByDelta) / float64(t.stats.TotalEvents) * 100
	}

	return map[string]interface{}{
		"total_events":         t.stats.TotalEvents,
		"skipped_by_delta":     t.stats.SkippedByDelta,
		"broadcast":            t.stats.Broadcast,
		"tracked_drivers":      len(t.lastPositions),
		"skip_rate":            fmt.Sprintf("%.2f%%", skipRate),
		"min_position_delta_m": MinPositionDelta,
		"max_interval_s":       MaxTimeSinceLastBroadcast.Seconds(),
	}
}
