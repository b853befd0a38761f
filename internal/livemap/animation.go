package livemap

import (
	"time"

	geo "github.com/kellydunn/golang-geo"
)

// AnimationDuration is how long a marker takes to glide to a new fix
const AnimationDuration = time.Second

// MinMoveMeters is the smallest position change treated as movement
const MinMoveMeters = 1.0

// Position is a WGS84 coordinate
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero is true for the (0,0) "no location" placeholder
func (p Position) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// DistanceMeters returns the great-circle distance between p and q
func (p Position) DistanceMeters(q Position) float64 {
	return geo.NewPoint(p.Lat, p.Lng).GreatCircleDistance(geo.NewPoint(q.Lat, q.Lng)) * 1000
}

// EaseOutCubic maps progress in [0,1] onto a decelerating curve
func EaseOutCubic(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	u := 1 - t
	return 1 - u*u*u
}

// Lerp interpolates linearly between from and to
func Lerp(from, to Position, f float64) Position {
	return Position{
		Lat: from.Lat + (to.Lat-from.Lat)*f,
		Lng: from.Lng + (to.Lng-from.Lng)*f,
	}
}

type animation struct {
	from     Position
	to       Position
	start    time.Time
	duration time.Duration
}

// at returns the eased position at now and whether the animation has finished.
// A finished animation sits exactly on its target.
func (a animation) at(now time.Time) (Position, bool) {
	elapsed := now.Sub(a.start)
	if a.duration <= 0 || elapsed >= a.duration {
		return a.to, true
	}
	progress := float64(elapsed) / float64(a.duration)
	return Lerp(a.from, a.to, EaseOutCubic(progress)), false
}
