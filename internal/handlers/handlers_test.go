package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleettrack-backend/internal/config"
	"fleettrack-backend/internal/livemap"
	"fleettrack-backend/internal/middleware"
	"fleettrack-backend/internal/services"
	"fleettrack-backend/internal/testutil"
	"fleettrack-backend/internal/websocket"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "handler-secret"
	testCode   = "AB12CD"
	testAdmin  = "admin-1"
)

type apiFixture struct {
	store     *testutil.MemoryStore
	notifier  *testutil.RecordingNotifier
	publisher *testutil.RecordingPublisher
	clock     *clock.Mock
	router    http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:     testutil.NewMemoryStore(),
		notifier:  &testutil.RecordingNotifier{},
		publisher: &testutil.RecordingPublisher{},
		clock:     clock.NewMock(),
	}
	f.clock.Set(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	f.store.AddFleetDevice(testCode, testAdmin, "Van 7")

	registry := services.NewIdentityRegistry(f.store, f.notifier, f.publisher, f.clock, true)
	f.router = NewRouter(RouterDeps{
		Registry:     registry,
		Gateway:      services.NewLocationGateway(registry, f.store, f.publisher, config.DefaultTracking(), f.clock),
		FleetDevices: services.NewFleetDeviceService(f.store, f.clock),
		Live:         f.store,
		Tokens:       f.store,
		Hub:          websocket.NewHub(),
		Throttle:     websocket.NewFeedThrottle(f.clock),
		JWTSecret:    testSecret,
		Thresholds:   livemap.DefaultThresholds(),
		Clock:        f.clock,
	})
	return f
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"email":   userID + "@example.com",
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func (f *apiFixture) do(t *testing.T, method, path, body, auth string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (f *apiFixture) connect(t *testing.T, name, existing string) string {
	t.Helper()
	body := `{"fleet_code":"` + testCode + `","display_name":"` + name + `","existing_driver_id":"` + existing + `"}`
	code, out := f.do(t, http.MethodPost, "/api/driver/connect", body, "")
	require.Equal(t, http.StatusOK, code, out)
	return out["driver_id"].(string)
}

func TestConnectEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	code, out := f.do(t, http.MethodPost, "/api/driver/connect", `{"fleet_code":"ab12cd","display_name":"Alice"}`, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["reconnected"])
	assert.EqualValues(t, f.clock.Now().UnixMilli(), out["server_time"])
	device := out["fleet_device"].(map[string]interface{})
	assert.Equal(t, testCode, device["code"])
	driverID := out["driver_id"].(string)

	again := f.connect(t, "Alice B", driverID)
	assert.Equal(t, driverID, again)
	assert.Len(t, f.notifier.Sent(), 1, "reconnect does not notify again")

	code, out = f.do(t, http.MethodPost, "/api/driver/connect", `{"fleet_code":"ZZ99ZZ","display_name":"Bob"}`, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, out["success"])

	code, _ = f.do(t, http.MethodPost, "/api/driver/connect", `{"fleet_code":"ab","display_name":"Bob"}`, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/driver/connect", `{"fleet_code":`, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestConnectionStatusAndDisconnect(t *testing.T) {
	f := newAPIFixture(t)
	driverID := f.connect(t, "Alice", "")

	code, out := f.do(t, http.MethodGet, "/api/driver/connection-status?driver_id="+driverID, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["connected"])
	assert.NotNil(t, out["fleet_device"])

	code, out = f.do(t, http.MethodPost, "/api/driver/disconnect", `{"driver_id":"`+driverID+`"}`, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])

	_, out = f.do(t, http.MethodGet, "/api/driver/connection-status?driver_id="+driverID, "", "")
	assert.Equal(t, false, out["connected"])

	code, out = f.do(t, http.MethodPost, "/api/driver/disconnect", `{"driver_id":"nobody"}`, "")
	assert.Equal(t, http.StatusOK, code, "unknown identity is already disconnected")
	assert.Equal(t, true, out["success"])

	code, out = f.do(t, http.MethodGet, "/api/driver/connection-status?driver_id=nobody", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["connected"])
}

func TestLocationEndpointSingle(t *testing.T) {
	f := newAPIFixture(t)
	driverID := f.connect(t, "Alice", "")
	prefix := `{"driver_id":"` + driverID + `","fleet_code":"` + testCode + `",`

	code, out := f.do(t, http.MethodPost, "/api/driver/location",
		prefix+`"latitude":40.7128,"longitude":-74.006,"accuracy":12,"speed":5,"timestamp":1700000000000}`, "")
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, true, out["stored"])
	assert.Equal(t, true, out["accurate"])
	assert.EqualValues(t, 1, out["history_stored"])
	assert.EqualValues(t, 15000, out["next_update_interval_ms"])
	assert.Nil(t, out["warning"])

	code, out = f.do(t, http.MethodPost, "/api/driver/location",
		prefix+`"latitude":null,"longitude":null,"battery_level":15}`, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["stored"])
	assert.NotEmpty(t, out["warning"])
	assert.EqualValues(t, 120000, out["next_update_interval_ms"])

	loc, ok := f.store.Location(driverID)
	require.True(t, ok)
	assert.Equal(t, 40.7128, loc.Latitude, "heartbeat-only report keeps the last fix")

	code, out = f.do(t, http.MethodPost, "/api/driver/location",
		prefix+`"latitude":40.7,"longitude":-74,"speed":900}`, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, out["success"])
}

func TestLocationEndpointRejectsUnknownIdentity(t *testing.T) {
	f := newAPIFixture(t)
	f.connect(t, "Alice", "")

	code, out := f.do(t, http.MethodPost, "/api/driver/location",
		`{"driver_id":"stale-id","fleet_code":"`+testCode+`","latitude":1,"longitude":1}`, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, true, out["requires_reauthentication"])
	assert.Equal(t, false, out["success"])

	code, _ = f.do(t, http.MethodPost, "/api/driver/location", `{"driver_id":`, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/driver/location", `{"fleet_code":"`+testCode+`","latitude":1,"longitude":1}`, "")
	assert.Equal(t, http.StatusBadRequest, code, "missing identity")
}

func TestLocationEndpointStoreFailureIsRetryable(t *testing.T) {
	f := newAPIFixture(t)
	driverID := f.connect(t, "Alice", "")
	f.store.Err = errors.New("connection refused")

	code, out := f.do(t, http.MethodPost, "/api/driver/location",
		`{"driver_id":"`+driverID+`","fleet_code":"`+testCode+`","latitude":1,"longitude":1}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, true, out["retryable"])
}

func TestLocationEndpointVendorBatch(t *testing.T) {
	f := newAPIFixture(t)
	driverID := f.connect(t, "Alice", "")

	body := `{"driver_id":"` + driverID + `","fleet_code":"` + testCode + `","location":[
		{"coords":{"latitude":1,"longitude":1,"accuracy":50},"timestamp":10},
		{"coords":{"latitude":2,"longitude":2,"accuracy":10},"timestamp":20},
		{"coords":{"latitude":3,"longitude":3,"accuracy":5},"timestamp":5}
	]}`
	code, out := f.do(t, http.MethodPost, "/api/driver/location", body, "")
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, true, out["stored"])
	assert.EqualValues(t, 2, out["history_stored"])

	loc, ok := f.store.Location(driverID)
	require.True(t, ok)
	assert.Equal(t, 2.0, loc.Latitude, "newest accurate fix wins, not the array-last one")
}

func TestLiveDriversEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	driverID := f.connect(t, "Alice", "")

	code, _ := f.do(t, http.MethodGet, "/api/manager/drivers/live", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(t, http.MethodGet, "/api/manager/drivers/live", "", bearer(t, "d", middleware.RoleDriver))
	assert.Equal(t, http.StatusForbidden, code)

	code, out := f.do(t, http.MethodGet, "/api/manager/drivers/live", "", bearer(t, testAdmin, middleware.RoleAdmin))
	require.Equal(t, http.StatusOK, code)
	drivers := out["drivers"].([]interface{})
	require.Len(t, drivers, 1)
	d := drivers[0].(map[string]interface{})
	assert.Equal(t, driverID, d["driver_id"])
	assert.Equal(t, "active", d["liveness"])
	assert.Equal(t, false, d["stale"])

	f.clock.Add(10 * time.Minute)
	_, out = f.do(t, http.MethodGet, "/api/manager/drivers/live", "", bearer(t, testAdmin, middleware.RoleAdmin))
	d = out["drivers"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "idle", d["liveness"])

	_, out = f.do(t, http.MethodGet, "/api/manager/drivers/live", "", bearer(t, "admin-2", middleware.RoleAdmin))
	assert.Empty(t, out["drivers"])
}

func TestLiveDriversFlagsStuckDevice(t *testing.T) {
	f := newAPIFixture(t)
	driverID := f.connect(t, "Alice", "")
	admin := bearer(t, testAdmin, middleware.RoleAdmin)

	report := func(lat string) {
		t.Helper()
		body := `{"driver_id":"` + driverID + `","fleet_code":"` + testCode + `","latitude":` + lat +
			`,"longitude":13.405,"accuracy":5,"timestamp":` + jsonInt(f.clock.Now().UnixMilli()) + `}`
		code, out := f.do(t, http.MethodPost, "/api/driver/location", body, "")
		require.Equal(t, http.StatusOK, code, out)
	}
	live := func() map[string]interface{} {
		t.Helper()
		code, out := f.do(t, http.MethodGet, "/api/manager/drivers/live", "", admin)
		require.Equal(t, http.StatusOK, code)
		return out["drivers"].([]interface{})[0].(map[string]interface{})
	}

	report("52.52")
	// Same coordinates every 5 minutes for 20 minutes
	for i := 0; i < 4; i++ {
		f.clock.Add(5 * time.Minute)
		report("52.52")
	}
	d := live()
	assert.Equal(t, "active", d["liveness"])
	assert.Equal(t, true, d["stale"], "reports that never move the marker are GPS-stuck")

	report("52.53")
	assert.Equal(t, false, live()["stale"])
}

func TestDriverHistoryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	driverID := f.connect(t, "Alice", "")
	admin := bearer(t, testAdmin, middleware.RoleAdmin)

	for i, ts := range []int64{1000, 2000, 3000} {
		body := `{"driver_id":"` + driverID + `","fleet_code":"` + testCode + `","latitude":1.` + string(rune('1'+i)) +
			`,"longitude":1,"accuracy":5,"timestamp":` + jsonInt(ts) + `}`
		code, out := f.do(t, http.MethodPost, "/api/driver/location", body, "")
		require.Equal(t, http.StatusOK, code, out)
	}

	code, out := f.do(t, http.MethodGet, "/api/manager/drivers/"+driverID+"/history?since=2000", "", admin)
	require.Equal(t, http.StatusOK, code)
	points := out["points"].([]interface{})
	require.Len(t, points, 2)
	assert.EqualValues(t, 2000, points[0].(map[string]interface{})["timestamp"])

	_, out = f.do(t, http.MethodGet, "/api/manager/drivers/"+driverID+"/history?limit=1", "", admin)
	points = out["points"].([]interface{})
	require.Len(t, points, 1)
	assert.EqualValues(t, 3000, points[0].(map[string]interface{})["timestamp"])

	code, _ = f.do(t, http.MethodGet, "/api/manager/drivers/"+driverID+"/history?limit=zero", "", admin)
	assert.Equal(t, http.StatusBadRequest, code)

	// Query numbers are plain decimal: no octal or hex prefixes
	_, out = f.do(t, http.MethodGet, "/api/manager/drivers/"+driverID+"/history?since=02000", "", admin)
	assert.Len(t, out["points"], 2)
	code, _ = f.do(t, http.MethodGet, "/api/manager/drivers/"+driverID+"/history?limit=0x10", "", admin)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/api/manager/drivers/"+driverID+"/history", "", bearer(t, "admin-2", middleware.RoleAdmin))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFleetDeviceAndTokenEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	admin := bearer(t, testAdmin, middleware.RoleAdmin)

	code, out := f.do(t, http.MethodPost, "/api/manager/fleet-devices", `{"name":"Truck 3"}`, admin)
	require.Equal(t, http.StatusCreated, code, out)
	device := out["fleet_device"].(map[string]interface{})
	assert.Equal(t, "Truck 3", device["name"])
	assert.Len(t, device["code"], 6)

	code, _ = f.do(t, http.MethodPost, "/api/manager/fleet-devices", `{"name":""}`, admin)
	assert.Equal(t, http.StatusBadRequest, code)

	_, out = f.do(t, http.MethodGet, "/api/manager/fleet-devices", "", admin)
	assert.Len(t, out["fleet_devices"], 2)

	code, _ = f.do(t, http.MethodPost, "/api/manager/fcm-token", `{"token":"tok-1","device_type":"web"}`, admin)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/manager/fcm-token", `{"token":"tok-2","device_type":"pager"}`, admin)
	assert.Equal(t, http.StatusBadRequest, code)

	tokens, err := f.store.GetFCMTokens(t.Context(), testAdmin)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, tokens)

	code, out = f.do(t, http.MethodGet, "/api/manager/feed/stats", "", admin)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, out["connected_clients"])
	assert.EqualValues(t, 0, out["connected_users"])
	assert.Equal(t, false, out["feed_connected"])
}

func TestDiagnosticLogEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	code, out := f.do(t, http.MethodPost, "/api/logs/diagnostic", `{"level":"ERROR","message":"gps denied","platform":"ios"}`, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "received", out["status"])
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
