package livemap

import (
	"sort"
	"time"

	"fleettrack-backend/internal/models"

	"github.com/benbjohnson/clock"
)

// MarkerState is what a renderer draws for one driver on one frame
type MarkerState struct {
	DriverID    string              `json:"driver_id"`
	DisplayName string              `json:"display_name"`
	FleetCode   string              `json:"fleet_code"`
	Status      models.DriverStatus `json:"status"`
	Liveness    Liveness            `json:"liveness"`
	Stale       bool                `json:"stale"`
	// HasLocation is false for "connected, no location"; Position is then meaningless
	HasLocation bool      `json:"has_location"`
	Position    Position  `json:"position"`
	Heading     *float64  `json:"heading,omitempty"`
	Battery     *float64  `json:"battery_level,omitempty"`
	Animating   bool      `json:"animating"`
	LastSeen    time.Time `json:"last_seen"`
}

type marker struct {
	driverID    string
	displayName string
	fleetCode   string
	status      models.DriverStatus
	statusAt    int64 // driver row write time behind status and device
	lastSeen    time.Time
	device      models.DeviceStatus
	heading     *float64

	hasLocation bool
	target      Position
	displayed   Position
	movedAt     time.Time
	// server write time of target; older snapshot rows never move the marker back
	fixAt int64
	anim  *animation
}

// View holds the on-screen markers of one dispatcher view. It is not safe for
// concurrent use; Session drives it from a single goroutine.
type View struct {
	clock      clock.Clock
	thresholds Thresholds
	duration   time.Duration
	markers    map[string]*marker
}

func NewView(clk clock.Clock, thresholds Thresholds) *View {
	if clk == nil {
		clk = clock.New()
	}
	return &View{
		clock:      clk,
		thresholds: thresholds,
		duration:   AnimationDuration,
		markers:    make(map[string]*marker),
	}
}

// ApplySnapshot reconciles the view with a full roster from the fallback poll.
// Drivers missing from the roster are removed along with their animations.
func (v *View) ApplySnapshot(drivers []models.LiveDriver) {
	now := v.clock.Now()
	seen := make(map[string]bool, len(drivers))

	for _, d := range drivers {
		seen[d.DriverID] = true
		m, ok := v.markers[d.DriverID]
		if !ok {
			m = &marker{driverID: d.DriverID}
			v.markers[d.DriverID] = m
		}
		m.displayName = d.DisplayName
		m.fleetCode = d.FleetCode

		// Status and metadata only come from rows written after what is on screen
		if !ok || d.UpdatedAt > m.statusAt {
			m.status = d.Status
			m.device = d.DeviceStatus
			m.statusAt = d.UpdatedAt
		}
		if ls := time.Unix(d.LastSeen, 0); ls.After(m.lastSeen) {
			m.lastSeen = ls
		}

		loc := d.CurrentLocation
		if loc == nil || (m.fixAt > 0 && loc.UpdatedAt <= m.fixAt) {
			continue
		}
		m.heading = loc.Heading
		m.fixAt = loc.UpdatedAt
		movedAt := time.Unix(loc.LastMoved(), 0)
		v.moveTo(m, Position{Lat: loc.Latitude, Lng: loc.Longitude}, movedAt, now)
		if m.hasLocation && movedAt.After(m.movedAt) {
			m.movedAt = movedAt
		}
	}

	for id := range v.markers {
		if !seen[id] {
			delete(v.markers, id)
		}
	}
}

// ApplyLocation applies a feed location update. Updates for drivers that are not
// on screen are discarded and false is returned.
func (v *View) ApplyLocation(ev models.LocationUpdateEvent) bool {
	m, ok := v.markers[ev.DriverID]
	if !ok {
		return false
	}
	now := v.clock.Now()
	movedAt := now
	if ev.UpdatedAt > 0 {
		if ev.UpdatedAt < m.fixAt {
			return true
		}
		m.fixAt = ev.UpdatedAt
		movedAt = time.Unix(ev.UpdatedAt, 0)
		if movedAt.After(m.lastSeen) {
			m.lastSeen = movedAt
		}
	}
	if ev.Heading != nil {
		m.heading = ev.Heading
	}
	v.moveTo(m, Position{Lat: ev.Latitude, Lng: ev.Longitude}, movedAt, now)
	return true
}

// ApplyStatus applies a feed status update; unknown drivers are discarded
func (v *View) ApplyStatus(ev models.StatusUpdateEvent) bool {
	m, ok := v.markers[ev.DriverID]
	if !ok {
		return false
	}
	if ev.UpdatedAt > 0 && ev.UpdatedAt < m.statusAt {
		return true
	}
	m.status = ev.Status
	if ev.UpdatedAt > m.statusAt {
		m.statusAt = ev.UpdatedAt
	}
	if ev.DisplayName != "" {
		m.displayName = ev.DisplayName
	}
	if ls := time.Unix(ev.LastSeen, 0); ls.After(m.lastSeen) {
		m.lastSeen = ls
	}
	m.device = m.device.Merge(ev.DeviceStatus)
	return true
}

// moveTo points the marker at pos. A marker without a previous position jumps
// straight there; otherwise it eases from wherever it is currently drawn.
func (v *View) moveTo(m *marker, pos Position, movedAt, now time.Time) {
	if pos.IsZero() {
		m.hasLocation = false
		m.anim = nil
		return
	}

	if !m.hasLocation {
		m.hasLocation = true
		m.target = pos
		m.displayed = pos
		m.movedAt = movedAt
		m.anim = nil
		return
	}

	if m.target.DistanceMeters(pos) < MinMoveMeters {
		return
	}

	from := m.displayed
	if m.anim != nil {
		from, _ = m.anim.at(now)
	}
	m.target = pos
	m.movedAt = movedAt
	m.anim = &animation{from: from, to: pos, start: now, duration: v.duration}
}

// Frame advances every animation to the current time and returns the markers
// ordered by driver id
func (v *View) Frame() []MarkerState {
	now := v.clock.Now()
	states := make([]MarkerState, 0, len(v.markers))

	for _, m := range v.markers {
		if m.anim != nil {
			pos, done := m.anim.at(now)
			m.displayed = pos
			if done {
				m.anim = nil
			}
		}

		liveness := v.thresholds.Classify(now, m.status, m.lastSeen)
		states = append(states, MarkerState{
			DriverID:    m.driverID,
			DisplayName: m.displayName,
			FleetCode:   m.fleetCode,
			Status:      m.status,
			Liveness:    liveness,
			Stale:       m.hasLocation && v.thresholds.IsStale(now, liveness, m.movedAt),
			HasLocation: m.hasLocation,
			Position:    m.displayed,
			Heading:     m.heading,
			Battery:     m.device.BatteryLevel,
			Animating:   m.anim != nil,
			LastSeen:    m.lastSeen,
		})
	}

	sort.Slice(states, func(i, j int) bool { return states[i].DriverID < states[j].DriverID })
	return states
}

// Remove takes a driver off screen and drops its animation
func (v *View) Remove(driverID string) {
	delete(v.markers, driverID)
}

// StopAnimation snaps a driver's marker onto its latest fix
func (v *View) StopAnimation(driverID string) {
	if m, ok := v.markers[driverID]; ok && m.anim != nil {
		m.displayed = m.target
		m.anim = nil
	}
}

// Has reports whether the driver is on screen
func (v *View) Has(driverID string) bool {
	_, ok := v.markers[driverID]
	return ok
}

// Len returns the number of markers on screen
func (v *View) Len() int {
	return len(v.markers)
}
