package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleettrack-backend/internal/config"
	"fleettrack-backend/internal/models"
	"fleettrack-backend/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

type gatewayFixture struct {
	*registryFixture
	gateway  *services.LocationGateway
	driverID string
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	rf := newRegistryFixture(t, true)
	res := rf.connect(t, "Alice", "")
	gw := services.NewLocationGateway(rf.registry, rf.store, rf.publisher, config.DefaultTracking(), rf.clock)
	return &gatewayFixture{registryFixture: rf, gateway: gw, driverID: res.Driver.ID}
}

func (f *gatewayFixture) single(fix models.Fix) models.LocationReport {
	return models.LocationReport{DriverID: f.driverID, FleetCode: testCode, Kind: models.ReportSingle, Single: fix}
}

func (f *gatewayFixture) batch(fixes ...models.Fix) models.LocationReport {
	return models.LocationReport{DriverID: f.driverID, FleetCode: testCode, Kind: models.ReportBatch, Batch: fixes}
}

func fixAt(lat, lng float64, accuracy float64, ts int64) models.Fix {
	return models.Fix{Latitude: f64(lat), Longitude: f64(lng), Accuracy: f64(accuracy), Timestamp: i64(ts)}
}

func TestSingleAccurateFix(t *testing.T) {
	f := newGatewayFixture(t)

	res, err := f.gateway.ReportLocation(context.Background(), f.single(fixAt(40.7128, -74.0060, 12, 1_700_000_000_000)))
	require.NoError(t, err)

	assert.True(t, res.Stored)
	require.NotNil(t, res.Accurate)
	assert.True(t, *res.Accurate)
	assert.Equal(t, 1, res.HistoryStored)
	assert.Equal(t, 60*time.Second, res.NextUpdateInterval)
	assert.Equal(t, f.clock.Now(), res.ServerTime)

	loc, _ := f.store.Location(f.driverID)
	assert.Equal(t, 40.7128, loc.Latitude)
	assert.Equal(t, -74.0060, loc.Longitude)
	assert.Equal(t, int64(1_700_000_000_000), loc.Timestamp)
	assert.Equal(t, f.clock.Now().Unix(), loc.UpdatedAt)

	history := f.store.History(f.driverID)
	require.Len(t, history, 1)
	assert.Equal(t, testCode, history[0].FleetCode)

	events := f.publisher.Locations()
	require.Len(t, events, 1)
	assert.Equal(t, testAdmin, events[0].AdminID)
}

func TestSingleInaccurateFixSkipsHistory(t *testing.T) {
	f := newGatewayFixture(t)

	res, err := f.gateway.ReportLocation(context.Background(), f.single(fixAt(40.7, -74.0, 50, 1000)))
	require.NoError(t, err)
	assert.True(t, res.Stored)
	assert.False(t, *res.Accurate)
	assert.Empty(t, f.store.History(f.driverID))

	loc, _ := f.store.Location(f.driverID)
	assert.Equal(t, 40.7, loc.Latitude)

	noAccuracy := models.Fix{Latitude: f64(40.8), Longitude: f64(-74.1)}
	res, err = f.gateway.ReportLocation(context.Background(), f.single(noAccuracy))
	require.NoError(t, err)
	assert.False(t, *res.Accurate, "missing accuracy is not accurate")
	assert.Empty(t, f.store.History(f.driverID))
}

func TestSingleWithoutCoordinatesIsHeartbeatOnly(t *testing.T) {
	cases := map[string]models.Fix{
		"absent":       {BatteryLevel: f64(55)},
		"zero zero":    {Latitude: f64(0), Longitude: f64(0), BatteryLevel: f64(55)},
		"out of range": {Latitude: f64(91), Longitude: f64(10), BatteryLevel: f64(55)},
		"missing lng":  {Latitude: f64(40), BatteryLevel: f64(55)},
	}
	for name, fix := range cases {
		t.Run(name, func(t *testing.T) {
			f := newGatewayFixture(t)
			f.clock.Add(2 * time.Minute)

			res, err := f.gateway.ReportLocation(context.Background(), f.single(fix))
			require.NoError(t, err)
			assert.False(t, res.Stored)
			assert.NotEmpty(t, res.Warning)

			loc, _ := f.store.Location(f.driverID)
			assert.False(t, loc.HasFix(), "current location untouched")

			d := f.store.Driver(f.driverID)
			assert.Equal(t, f.clock.Now().Unix(), d.LastSeen)
			require.NotNil(t, d.DeviceStatus.BatteryLevel)
			assert.Equal(t, 55.0, *d.DeviceStatus.BatteryLevel)
			assert.Empty(t, f.publisher.Locations())
		})
	}
}

func TestHeartbeatOnlyDropsOutOfRangeMetadata(t *testing.T) {
	f := newGatewayFixture(t)

	res, err := f.gateway.ReportLocation(context.Background(), f.single(models.Fix{BatteryLevel: f64(150), Heading: f64(-1)}))
	require.NoError(t, err)
	assert.False(t, res.Stored)

	d := f.store.Driver(f.driverID)
	assert.Nil(t, d.DeviceStatus.BatteryLevel)
	assert.Nil(t, d.DeviceStatus.Heading)
}

func TestSingleOutOfRangeValuesRejected(t *testing.T) {
	cases := map[string]models.Fix{
		"speed too high":   {Latitude: f64(40), Longitude: f64(-74), Speed: f64(600)},
		"negative speed":   {Latitude: f64(40), Longitude: f64(-74), Speed: f64(-2)},
		"battery too high": {Latitude: f64(40), Longitude: f64(-74), BatteryLevel: f64(150)},
	}
	for name, fix := range cases {
		t.Run(name, func(t *testing.T) {
			f := newGatewayFixture(t)
			before := f.store.Driver(f.driverID)
			f.clock.Add(time.Minute)

			_, err := f.gateway.ReportLocation(context.Background(), f.single(fix))
			assert.True(t, services.IsValidationError(err), "got %v", err)

			loc, _ := f.store.Location(f.driverID)
			assert.False(t, loc.HasFix())
			assert.Equal(t, before.LastSeen, f.store.Driver(f.driverID).LastSeen, "nothing written")
		})
	}
}

func TestSingleNegativeHeadingDropped(t *testing.T) {
	f := newGatewayFixture(t)

	fix := fixAt(40, -74, 5, 1000)
	fix.Heading = f64(-1)
	_, err := f.gateway.ReportLocation(context.Background(), f.single(fix))
	require.NoError(t, err)

	loc, _ := f.store.Location(f.driverID)
	assert.Nil(t, loc.Heading)
}

func TestReportIdentityFailures(t *testing.T) {
	f := newGatewayFixture(t)
	f.store.AddFleetDevice("XY98ZW", "admin-2", "Truck")
	ctx := context.Background()
	fix := fixAt(40, -74, 5, 1000)

	_, err := f.gateway.ReportLocation(ctx, models.LocationReport{DriverID: f.driverID, FleetCode: "XY98ZW", Kind: models.ReportSingle, Single: fix})
	assert.ErrorIs(t, err, services.ErrNotAuthorized)

	_, err = f.gateway.ReportLocation(ctx, models.LocationReport{DriverID: "ghost", FleetCode: testCode, Kind: models.ReportSingle, Single: fix})
	assert.ErrorIs(t, err, services.ErrNotAuthorized)

	_, err = f.gateway.ReportLocation(ctx, models.LocationReport{FleetCode: testCode, Kind: models.ReportSingle, Single: fix})
	assert.True(t, services.IsValidationError(err))

	_, err = f.gateway.ReportLocation(ctx, models.LocationReport{DriverID: f.driverID, Kind: models.ReportSingle, Single: fix})
	assert.True(t, services.IsValidationError(err))

	loc, _ := f.store.Location(f.driverID)
	assert.False(t, loc.HasFix())
}

func TestReportStoreFailure(t *testing.T) {
	f := newGatewayFixture(t)
	storeErr := errors.New("connection refused")
	f.store.Err = storeErr

	_, err := f.gateway.ReportLocation(context.Background(), f.single(fixAt(40, -74, 5, 1000)))
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.False(t, services.IsValidationError(err))
}

func TestNextIntervalHint(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		battery *float64
		speed   *float64
		want    time.Duration
	}{
		{"low battery", f64(10), nil, 120 * time.Second},
		{"low battery moving", f64(10), f64(8), 120 * time.Second},
		{"moving", f64(80), f64(8), 15 * time.Second},
		{"stationary", f64(80), f64(0.5), 60 * time.Second},
		{"unknown", nil, nil, 60 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fix := fixAt(40, -74, 5, 1000)
			fix.BatteryLevel = tc.battery
			fix.Speed = tc.speed
			res, err := f.gateway.ReportLocation(ctx, f.single(fix))
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.NextUpdateInterval)
		})
	}
}

func TestBatchPicksNewestAccurateFix(t *testing.T) {
	f := newGatewayFixture(t)

	res, err := f.gateway.ReportLocation(context.Background(), f.batch(
		fixAt(40.1, -74.1, 10, 1000),
		fixAt(40.3, -74.3, 80, 3000),
		fixAt(40.2, -74.2, 5, 2000),
	))
	require.NoError(t, err)
	assert.True(t, res.Stored)
	assert.Equal(t, models.ReportBatch, res.Kind)
	assert.Equal(t, 2, res.HistoryStored)

	loc, _ := f.store.Location(f.driverID)
	assert.Equal(t, 40.2, loc.Latitude)
	assert.Equal(t, int64(2000), loc.Timestamp)

	history := f.store.History(f.driverID)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1000), history[0].Timestamp)
	assert.Equal(t, int64(2000), history[1].Timestamp)
}

func TestBatchFallsBackToNewestValidFix(t *testing.T) {
	f := newGatewayFixture(t)

	res, err := f.gateway.ReportLocation(context.Background(), f.batch(
		fixAt(40.1, -74.1, 100, 1000),
		fixAt(40.3, -74.3, 200, 3000),
		fixAt(40.2, -74.2, 150, 2000),
	))
	require.NoError(t, err)
	assert.True(t, res.Stored)
	assert.Equal(t, 0, res.HistoryStored)

	loc, _ := f.store.Location(f.driverID)
	assert.Equal(t, 40.3, loc.Latitude)
}

func TestBatchTieBreaksOnArrayPosition(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.gateway.ReportLocation(context.Background(), f.batch(
		fixAt(40.1, -74.1, 10, 5000),
		fixAt(40.2, -74.2, 10, 5000),
		models.Fix{Latitude: f64(40.9), Longitude: f64(-74.9), Accuracy: f64(10)},
	))
	require.NoError(t, err)

	loc, _ := f.store.Location(f.driverID)
	assert.Equal(t, 40.2, loc.Latitude, "later position wins a tie; missing timestamp ranks lowest")
}

func TestBatchSkipsInvalidFixes(t *testing.T) {
	f := newGatewayFixture(t)

	bad := fixAt(40.5, -74.5, 5, 9000)
	bad.Speed = f64(900)
	res, err := f.gateway.ReportLocation(context.Background(), f.batch(
		fixAt(40.1, -74.1, 5, 1000),
		bad,
		models.Fix{Latitude: f64(0), Longitude: f64(0), Accuracy: f64(5), Timestamp: i64(8000)},
	))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.HistoryStored)

	loc, _ := f.store.Location(f.driverID)
	assert.Equal(t, 40.1, loc.Latitude)
}

func TestBatchNeverReplacesNewerLocation(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	_, err := f.gateway.ReportLocation(ctx, f.single(fixAt(41, -73, 5, 10_000)))
	require.NoError(t, err)

	res, err := f.gateway.ReportLocation(ctx, f.batch(fixAt(40, -74, 5, 2000)))
	require.NoError(t, err)
	assert.False(t, res.Stored)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 1, res.HistoryStored, "history still recorded")

	loc, _ := f.store.Location(f.driverID)
	assert.Equal(t, 41.0, loc.Latitude)
	assert.Equal(t, int64(10_000), loc.Timestamp)
}

func TestBatchHistoryKeepsMostRecent(t *testing.T) {
	f := newGatewayFixture(t)

	var fixes []models.Fix
	for i := 1; i <= 60; i++ {
		fixes = append(fixes, fixAt(40+float64(i)/1000, -74, 5, int64(i)*1000))
	}
	res, err := f.gateway.ReportLocation(context.Background(), f.batch(fixes...))
	require.NoError(t, err)
	assert.Equal(t, 50, res.HistoryStored)

	history := f.store.History(f.driverID)
	require.Len(t, history, 50)
	assert.Equal(t, int64(11_000), history[0].Timestamp)
	assert.Equal(t, int64(60_000), history[49].Timestamp)
}

func TestBatchTooLarge(t *testing.T) {
	f := newGatewayFixture(t)

	fixes := make([]models.Fix, 501)
	for i := range fixes {
		fixes[i] = fixAt(40, -74, 5, int64(i))
	}
	_, err := f.gateway.ReportLocation(context.Background(), f.batch(fixes...))
	assert.True(t, services.IsValidationError(err))
	assert.Empty(t, f.store.History(f.driverID))
}

func TestBatchHeartbeatUsesLastFixMetadata(t *testing.T) {
	f := newGatewayFixture(t)

	first := fixAt(40.1, -74.1, 5, 1000)
	first.BatteryLevel = f64(90)
	first.Speed = f64(10)
	last := fixAt(40.2, -74.2, 5, 2000)
	last.BatteryLevel = f64(15)

	res, err := f.gateway.ReportLocation(context.Background(), f.batch(first, last))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, res.NextUpdateInterval)

	d := f.store.Driver(f.driverID)
	assert.Equal(t, 15.0, *d.DeviceStatus.BatteryLevel)
	assert.Equal(t, models.DriverStatusActive, d.Status)
}

func TestBatchIntervalIgnoresOutOfRangeSpeed(t *testing.T) {
	f := newGatewayFixture(t)

	good := fixAt(40.1, -74.1, 5, 1000)
	// Skipped as invalid, but still the array-last fix
	bogus := fixAt(40.2, -74.2, 5, 2000)
	bogus.Speed = f64(900)

	res, err := f.gateway.ReportLocation(context.Background(), f.batch(good, bogus))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 60*time.Second, res.NextUpdateInterval, "a rejected speed is not movement")
}
