package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"fleettrack-backend/internal/config"
	"fleettrack-backend/internal/models"

	"github.com/benbjohnson/clock"
)

const (
	warningNoCoordinates = "No valid coordinates in report; heartbeat recorded"
	warningStaleBatch    = "A newer location is already stored; history recorded only"
)

// IdentityValidator is the registry guard the gateway runs before any write
type IdentityValidator interface {
	ValidateIdentity(ctx context.Context, driverID, code string) (*models.Driver, error)
}

// ReportResult is the gateway's answer to a location report
type ReportResult struct {
	Kind               models.ReportKind
	Stored             bool
	Warning            string
	Accurate           *bool
	HistoryStored      int
	Skipped            int
	ServerTime         time.Time
	NextUpdateInterval time.Duration
}

// LocationGateway validates and persists location reports. It keeps no per-request state.
type LocationGateway struct {
	identities IdentityValidator
	store      LocationStore
	publisher  Publisher
	policy     config.Tracking
	clock      clock.Clock
}

// NewLocationGateway creates a gateway running the given tracking policy
func NewLocationGateway(identities IdentityValidator, store LocationStore, publisher Publisher, policy config.Tracking, clk clock.Clock) *LocationGateway {
	if publisher == nil {
		publisher = Publishers{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &LocationGateway{
		identities: identities,
		store:      store,
		publisher:  publisher,
		policy:     policy,
		clock:      clk,
	}
}

// ReportLocation runs the single-fix or batch algorithm for a decoded report
func (g *LocationGateway) ReportLocation(ctx context.Context, report models.LocationReport) (*ReportResult, error) {
	if report.DriverID == "" {
		return nil, invalid("driver_id", "driver id is required")
	}
	if report.FleetCode == "" {
		return nil, invalid("fleet_code", "connection code is required")
	}

	driver, err := g.identities.ValidateIdentity(ctx, report.DriverID, report.FleetCode)
	if err != nil {
		return nil, err
	}

	switch report.Kind {
	case models.ReportSingle:
		return g.reportSingle(ctx, driver, report.Single)
	case models.ReportBatch:
		return g.reportBatch(ctx, driver, report.Batch)
	default:
		return nil, invalid("payload", "report must be a single fix or a batch")
	}
}

func (g *LocationGateway) reportSingle(ctx context.Context, driver *models.Driver, fix models.Fix) (*ReportResult, error) {
	now := g.clock.Now()
	result := &ReportResult{Kind: models.ReportSingle, ServerTime: now}

	if !HasValidCoordinates(fix) {
		// GPS not acquired yet: heartbeat only, CurrentLocation untouched
		fix = g.sanitizeMeta(fix)
		if err := g.heartbeat(ctx, driver, fix, now); err != nil {
			return nil, err
		}
		result.Warning = warningNoCoordinates
		result.NextUpdateInterval = nextPollIntervalForFix(g.policy, fix)
		log.Printf("⚠️  Heartbeat-only report from driver %s (no valid coordinates)", driver.ID)
		return result, nil
	}

	if err := g.validateFix(fix); err != nil {
		return nil, err
	}
	fix.Heading = sanitizeHeading(fix.Heading)

	loc := currentLocationFromFix(driver.ID, fix, now)
	if _, err := g.store.UpsertCurrentLocation(ctx, loc, false); err != nil {
		return nil, fmt.Errorf("upsert current location: %w", err)
	}
	result.Stored = true

	accurate := g.isAccurate(fix)
	result.Accurate = &accurate
	if accurate {
		point := historyPointFromFix(driver, fix, now)
		if err := g.store.InsertHistory(ctx, []models.LocationHistoryPoint{point}); err != nil {
			return nil, fmt.Errorf("insert history: %w", err)
		}
		result.HistoryStored = 1
	}

	if err := g.heartbeat(ctx, driver, fix, now); err != nil {
		return nil, err
	}

	g.publisher.PublishLocation(ctx, locationEvent(driver, loc))
	result.NextUpdateInterval = nextPollIntervalForFix(g.policy, fix)
	return result, nil
}

type indexedFix struct {
	index int
	fix   models.Fix
}

// newer orders fixes by client timestamp; missing timestamps rank lowest and
// ties go to the later array position
func (a indexedFix) newer(b indexedFix) bool {
	at, bt := timestampOrZero(a.fix), timestampOrZero(b.fix)
	if at != bt {
		return at > bt
	}
	return a.index > b.index
}

func (g *LocationGateway) reportBatch(ctx context.Context, driver *models.Driver, fixes []models.Fix) (*ReportResult, error) {
	if len(fixes) > g.policy.MaxBatchSize {
		return nil, invalid("locations", "batch may contain at most %d fixes, got %d", g.policy.MaxBatchSize, len(fixes))
	}

	now := g.clock.Now()
	result := &ReportResult{Kind: models.ReportBatch, ServerTime: now}

	var valid, accurate []indexedFix
	for i, fix := range fixes {
		if !HasValidCoordinates(fix) || g.validateFix(fix) != nil {
			result.Skipped++
			continue
		}
		fix.Heading = sanitizeHeading(fix.Heading)
		f := indexedFix{index: i, fix: fix}
		valid = append(valid, f)
		if g.isAccurate(fix) {
			accurate = append(accurate, f)
		}
	}

	// Newest accurate fix becomes the live marker; fall back to the newest valid one so
	// the driver still shows up when the whole batch is noisy
	candidates := accurate
	if len(candidates) == 0 {
		candidates = valid
	}
	if len(candidates) > 0 {
		newest := candidates[0]
		for _, f := range candidates[1:] {
			if f.newer(newest) {
				newest = f
			}
		}

		loc := currentLocationFromFix(driver.ID, newest.fix, now)
		applied, err := g.store.UpsertCurrentLocation(ctx, loc, true)
		if err != nil {
			return nil, fmt.Errorf("upsert current location: %w", err)
		}
		result.Stored = applied
		if applied {
			g.publisher.PublishLocation(ctx, locationEvent(driver, loc))
		} else {
			result.Warning = warningStaleBatch
		}
	} else {
		result.Warning = warningNoCoordinates
	}

	if len(accurate) > 0 {
		sort.Slice(accurate, func(i, j int) bool { return accurate[j].newer(accurate[i]) })
		if len(accurate) > g.policy.MaxHistoryPerBatch {
			accurate = accurate[len(accurate)-g.policy.MaxHistoryPerBatch:]
		}

		points := make([]models.LocationHistoryPoint, 0, len(accurate))
		for _, f := range accurate {
			points = append(points, historyPointFromFix(driver, f.fix, now))
		}
		if err := g.store.InsertHistory(ctx, points); err != nil {
			return nil, fmt.Errorf("insert history: %w", err)
		}
		result.HistoryStored = len(points)
	}

	var last models.Fix
	if len(fixes) > 0 {
		last = g.sanitizeMeta(fixes[len(fixes)-1])
	}
	if err := g.heartbeat(ctx, driver, last, now); err != nil {
		return nil, err
	}

	result.NextUpdateInterval = nextPollIntervalForFix(g.policy, last)
	log.Printf("📍 Batch from driver %s: %d fixes, %d valid, %d accurate, %d history rows, stored=%v",
		driver.ID, len(fixes), len(valid), len(accurate), result.HistoryStored, result.Stored)
	return result, nil
}

func (g *LocationGateway) heartbeat(ctx context.Context, driver *models.Driver, fix models.Fix, now time.Time) error {
	meta := fix.Meta()
	meta.LastUpdate = now.UnixMilli()

	if err := g.store.TouchHeartbeat(ctx, driver.ID, meta, now.Unix()); err != nil {
		return fmt.Errorf("refresh heartbeat: %w", err)
	}

	ev := statusEvent(driver)
	ev.Status = models.DriverStatusActive
	ev.LastSeen = now.Unix()
	ev.UpdatedAt = now.Unix()
	ev.DeviceStatus = driver.DeviceStatus.Merge(meta)
	g.publisher.PublishStatus(ctx, ev)
	return nil
}

// validateFix checks the business ranges of a fix that carries valid coordinates
func (g *LocationGateway) validateFix(fix models.Fix) error {
	if fix.Speed != nil && (*fix.Speed < 0 || *fix.Speed > g.policy.MaxSpeedMPS) {
		return invalid("speed", "speed must be between 0 and %g", g.policy.MaxSpeedMPS)
	}
	if fix.BatteryLevel != nil && !batteryInRange(*fix.BatteryLevel) {
		return invalid("battery_level", "battery level must be between 0 and 100")
	}
	return nil
}

func (g *LocationGateway) isAccurate(fix models.Fix) bool {
	return fix.Accuracy != nil && *fix.Accuracy >= 0 && *fix.Accuracy <= g.policy.AccuracyThresholdMeters
}

// HasValidCoordinates is true when both coordinates are present, in range, and not
// the (0,0) placeholder
func HasValidCoordinates(fix models.Fix) bool {
	if fix.Latitude == nil || fix.Longitude == nil {
		return false
	}
	lat, lng := *fix.Latitude, *fix.Longitude
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return false
	}
	return lat != 0 || lng != 0
}

func batteryInRange(level float64) bool {
	return level >= 0 && level <= 100
}

// sanitizeMeta drops out-of-range metadata from a fix that only feeds the heartbeat
// and the interval hint
func (g *LocationGateway) sanitizeMeta(fix models.Fix) models.Fix {
	if fix.BatteryLevel != nil && !batteryInRange(*fix.BatteryLevel) {
		fix.BatteryLevel = nil
	}
	if fix.Speed != nil && (*fix.Speed < 0 || *fix.Speed > g.policy.MaxSpeedMPS) {
		fix.Speed = nil
	}
	fix.Heading = sanitizeHeading(fix.Heading)
	return fix
}

// sanitizeHeading drops headings outside [0,360]; devices report -1 for "unknown"
func sanitizeHeading(h *float64) *float64 {
	if h == nil || *h < 0 || *h > 360 {
		return nil
	}
	return h
}

func timestampOrZero(fix models.Fix) int64 {
	if fix.Timestamp == nil {
		return 0
	}
	return *fix.Timestamp
}

func fixTimestamp(fix models.Fix, now time.Time) int64 {
	if fix.Timestamp == nil || *fix.Timestamp <= 0 {
		return now.UnixMilli()
	}
	return *fix.Timestamp
}

func currentLocationFromFix(driverID string, fix models.Fix, now time.Time) models.CurrentLocation {
	return models.CurrentLocation{
		DriverID:  driverID,
		Latitude:  *fix.Latitude,
		Longitude: *fix.Longitude,
		Speed:     fix.Speed,
		Accuracy:  fix.Accuracy,
		Heading:   fix.Heading,
		Timestamp: fixTimestamp(fix, now),
		UpdatedAt: now.Unix(),
	}
}

func historyPointFromFix(driver *models.Driver, fix models.Fix, now time.Time) models.LocationHistoryPoint {
	return models.LocationHistoryPoint{
		DriverID:  driver.ID,
		FleetCode: driver.FleetCode,
		Latitude:  *fix.Latitude,
		Longitude: *fix.Longitude,
		Speed:     fix.Speed,
		Accuracy:  fix.Accuracy,
		Heading:   fix.Heading,
		Timestamp: fixTimestamp(fix, now),
		CreatedAt: now.Unix(),
	}
}

func locationEvent(driver *models.Driver, loc models.CurrentLocation) models.LocationUpdateEvent {
	return models.LocationUpdateEvent{
		DriverID:  driver.ID,
		FleetCode: driver.FleetCode,
		AdminID:   driver.AdminID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Speed:     loc.Speed,
		Accuracy:  loc.Accuracy,
		Heading:   loc.Heading,
		Timestamp: loc.Timestamp,
		UpdatedAt: loc.UpdatedAt,
	}
}
