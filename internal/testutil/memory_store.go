// Package testutil holds in-memory fakes of the service store interfaces
package testutil

import (
	"context"
	"sort"
	"sync"

	"fleettrack-backend/internal/models"
	"fleettrack-backend/internal/services"
)

// MemoryStore implements every services store interface on plain maps.
// WithFleetLock serializes all callers on one mutex.
type MemoryStore struct {
	mu        sync.Mutex
	devices   map[string]*models.FleetDevice // code -> device
	drivers   map[string]*models.Driver
	locations map[string]models.CurrentLocation
	history   []models.LocationHistoryPoint
	tokens    map[string][]string
	nextID    int64

	// Err, when set, is returned by every call
	Err error
}

var (
	_ services.IdentityStore    = (*MemoryStore)(nil)
	_ services.LocationStore    = (*MemoryStore)(nil)
	_ services.LiveStore        = (*MemoryStore)(nil)
	_ services.TokenStore       = (*MemoryStore)(nil)
	_ services.SweeperStore     = (*MemoryStore)(nil)
	_ services.FleetDeviceStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   make(map[string]*models.FleetDevice),
		drivers:   make(map[string]*models.Driver),
		locations: make(map[string]models.CurrentLocation),
		tokens:    make(map[string][]string),
	}
}

// AddFleetDevice seeds a disconnected device
func (m *MemoryStore) AddFleetDevice(code, adminID, name string) *models.FleetDevice {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := &models.FleetDevice{
		ID:      "device-" + code,
		Code:    code,
		AdminID: adminID,
		Name:    name,
		Status:  models.FleetDeviceDisconnected,
	}
	m.devices[code] = d
	return copyDevice(d)
}

// Driver returns a copy of the stored driver, or nil
func (m *MemoryStore) Driver(id string) *models.Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil
	}
	return m.withAdmin(d)
}

// Drivers returns how many driver rows exist
func (m *MemoryStore) Drivers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.drivers)
}

// Device returns a copy of the device for code, or nil
func (m *MemoryStore) Device(code string) *models.FleetDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[code]
	if !ok {
		return nil
	}
	return copyDevice(d)
}

// Location returns the stored current location
func (m *MemoryStore) Location(driverID string) (models.CurrentLocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[driverID]
	return loc, ok
}

// History returns the driver's history rows in insertion order
func (m *MemoryStore) History(driverID string) []models.LocationHistoryPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LocationHistoryPoint
	for _, p := range m.history {
		if p.DriverID == driverID {
			out = append(out, p)
		}
	}
	return out
}

// SetLastSeen rewrites a driver's heartbeat time
func (m *MemoryStore) SetLastSeen(driverID string, lastSeen int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.drivers[driverID]; ok {
		d.LastSeen = lastSeen
	}
}

// AddHistory appends raw rows, bypassing the gateway
func (m *MemoryStore) AddHistory(points ...models.LocationHistoryPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendHistory(points)
}

func (m *MemoryStore) WithFleetLock(ctx context.Context, code string, fn func(tx services.FleetTx) error) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memoryTx{m})
}

func (m *MemoryStore) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return m.withAdmin(d), nil
}

func (m *MemoryStore) GetFleetDeviceByCode(ctx context.Context, code string) (*models.FleetDevice, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[code]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyDevice(d), nil
}

func (m *MemoryStore) DisconnectDriver(ctx context.Context, driverID string, now int64) (*models.Driver, bool, error) {
	if m.Err != nil {
		return nil, false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drivers[driverID]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	changed := d.Status != models.DriverStatusOffline
	for _, dev := range m.devices {
		if dev.IsConnectedTo(driverID) {
			dev.ConnectedDriverID = nil
			dev.Status = models.FleetDeviceDisconnected
			changed = true
		}
	}
	if changed {
		d.Status = models.DriverStatusOffline
		d.UpdatedAt = now
	}
	return m.withAdmin(d), changed, nil
}

func (m *MemoryStore) UpsertCurrentLocation(ctx context.Context, loc models.CurrentLocation, onlyIfNewer bool) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	loc.MovedAt = loc.UpdatedAt
	if existing, ok := m.locations[loc.DriverID]; ok {
		if onlyIfNewer && existing.Timestamp > loc.Timestamp {
			return false, nil
		}
		if existing.Latitude == loc.Latitude && existing.Longitude == loc.Longitude {
			loc.MovedAt = existing.MovedAt
		}
	}
	m.locations[loc.DriverID] = loc
	return true, nil
}

func (m *MemoryStore) InsertHistory(ctx context.Context, points []models.LocationHistoryPoint) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendHistory(points)
	return nil
}

func (m *MemoryStore) TouchHeartbeat(ctx context.Context, driverID string, meta models.DeviceStatus, now int64) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drivers[driverID]
	if !ok {
		return models.ErrNotFound
	}
	d.Status = models.DriverStatusActive
	d.LastSeen = now
	d.UpdatedAt = now
	d.DeviceStatus = d.DeviceStatus.Merge(meta)
	return nil
}

func (m *MemoryStore) ListLiveDrivers(ctx context.Context, adminID string) ([]models.LiveDriver, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.LiveDriver
	for _, d := range m.drivers {
		if m.adminOf(d) != adminID {
			continue
		}
		live := models.LiveDriver{
			DriverID:     d.ID,
			DisplayName:  d.DisplayName,
			FleetCode:    d.FleetCode,
			Status:       d.Status,
			LastSeen:     d.LastSeen,
			UpdatedAt:    d.UpdatedAt,
			DeviceStatus: d.DeviceStatus,
		}
		if loc, ok := m.locations[d.ID]; ok {
			loc := loc
			live.CurrentLocation = &loc
		}
		out = append(out, live)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (m *MemoryStore) GetDriverHistory(ctx context.Context, adminID, driverID string, since int64, limit int) ([]models.LocationHistoryPoint, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drivers[driverID]
	if !ok || m.adminOf(d) != adminID {
		return nil, models.ErrNotFound
	}

	var out []models.LocationHistoryPoint
	for _, p := range m.history {
		if p.DriverID == driverID && p.Timestamp >= since {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) CreateFleetDevice(ctx context.Context, device *models.FleetDevice) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.Code]; exists {
		return models.ErrConflict
	}
	m.devices[device.Code] = copyDevice(device)
	return nil
}

func (m *MemoryStore) ListFleetDevices(ctx context.Context, adminID string) ([]models.FleetDevice, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.FleetDevice
	for _, d := range m.devices {
		if d.AdminID == adminID {
			out = append(out, *copyDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) RegisterFCMToken(ctx context.Context, userID, token, deviceType string, now int64) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tokens[userID] {
		if t == token {
			return nil
		}
	}
	m.tokens[userID] = append(m.tokens[userID], token)
	return nil
}

func (m *MemoryStore) GetFCMTokens(ctx context.Context, userID string) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens[userID]...), nil
}

func (m *MemoryStore) MarkSilentDriversOffline(ctx context.Context, silentSince, now int64) ([]models.Driver, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Driver
	for _, d := range m.drivers {
		if d.Status == models.DriverStatusActive && d.LastSeen < silentSince {
			d.Status = models.DriverStatusOffline
			d.UpdatedAt = now
			out = append(out, *m.withAdmin(d))
		}
	}
	return out, nil
}

func (m *MemoryStore) PruneHistory(ctx context.Context, before int64) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.history[:0]
	var removed int64
	for _, p := range m.history {
		if p.CreatedAt < before {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	m.history = kept
	return removed, nil
}

func (m *MemoryStore) appendHistory(points []models.LocationHistoryPoint) {
	for _, p := range points {
		m.nextID++
		p.ID = m.nextID
		m.history = append(m.history, p)
	}
}

func (m *MemoryStore) adminOf(d *models.Driver) string {
	if dev, ok := m.devices[d.FleetCode]; ok {
		return dev.AdminID
	}
	return ""
}

func (m *MemoryStore) withAdmin(d *models.Driver) *models.Driver {
	c := *d
	c.AdminID = m.adminOf(d)
	return &c
}

func copyDevice(d *models.FleetDevice) *models.FleetDevice {
	c := *d
	if d.ConnectedDriverID != nil {
		id := *d.ConnectedDriverID
		c.ConnectedDriverID = &id
	}
	if d.ConnectedAt != nil {
		at := *d.ConnectedAt
		c.ConnectedAt = &at
	}
	return &c
}

// memoryTx runs with MemoryStore.mu already held
type memoryTx struct {
	m *MemoryStore
}

func (tx memoryTx) GetFleetDevice(ctx context.Context, code string) (*models.FleetDevice, error) {
	d, ok := tx.m.devices[code]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyDevice(d), nil
}

func (tx memoryTx) FindDriverByFleetCode(ctx context.Context, code string) (*models.Driver, error) {
	for _, d := range tx.m.drivers {
		if d.FleetCode == code {
			return tx.m.withAdmin(d), nil
		}
	}
	return nil, models.ErrNotFound
}

func (tx memoryTx) CreateDriver(ctx context.Context, driver *models.Driver) error {
	for _, d := range tx.m.drivers {
		if d.FleetCode == driver.FleetCode {
			return models.ErrConflict
		}
	}
	c := *driver
	tx.m.drivers[driver.ID] = &c
	tx.m.locations[driver.ID] = models.CurrentLocation{DriverID: driver.ID, UpdatedAt: driver.CreatedAt, MovedAt: driver.CreatedAt}
	return nil
}

func (tx memoryTx) MarkDriverConnected(ctx context.Context, driverID, displayName string, now int64) error {
	d, ok := tx.m.drivers[driverID]
	if !ok {
		return models.ErrNotFound
	}
	d.DisplayName = displayName
	d.Status = models.DriverStatusActive
	d.LastSeen = now
	d.UpdatedAt = now
	return nil
}

func (tx memoryTx) BindFleetDevice(ctx context.Context, deviceID, driverID string, now int64) error {
	for _, dev := range tx.m.devices {
		if dev.ID == deviceID {
			id := driverID
			at := now
			dev.ConnectedDriverID = &id
			dev.ConnectedAt = &at
			dev.Status = models.FleetDeviceConnected
			return nil
		}
	}
	return models.ErrNotFound
}
