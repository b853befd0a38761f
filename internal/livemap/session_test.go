package livemap

import (
	"context"
	"sync"
	"testing"
	"time"

	"fleettrack-backend/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	drivers []models.LiveDriver
	polls   int
	gates   map[string]chan []models.LocationHistoryPoint
}

func (f *fakeSource) LiveDrivers(ctx context.Context) ([]models.LiveDriver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return append([]models.LiveDriver(nil), f.drivers...), nil
}

func (f *fakeSource) History(ctx context.Context, driverID string, since time.Time, limit int) ([]models.LocationHistoryPoint, error) {
	f.mu.Lock()
	gate := f.gates[driverID]
	f.mu.Unlock()
	select {
	case points := <-gate:
		return points, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSource) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeFeed struct {
	subs chan chan FeedEvent
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(chan chan FeedEvent, 4)}
}

func (f *fakeFeed) Subscribe(ctx context.Context) (<-chan FeedEvent, error) {
	ch := make(chan FeedEvent, 8)
	f.subs <- ch
	return ch, nil
}

type frameRecorder struct {
	mu   sync.Mutex
	last []MarkerState
}

func (r *frameRecorder) record(states []MarkerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = states
}

func (r *frameRecorder) marker(id string) (MarkerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.last {
		if m.DriverID == id {
			return m, true
		}
	}
	return MarkerState{}, false
}

type sessionFixture struct {
	clock   *clock.Mock
	source  *fakeSource
	feed    *fakeFeed
	frames  *frameRecorder
	session *Session
	done    chan error

	mu        sync.Mutex
	histories map[string]int
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	now := clk.Now()

	fx := &sessionFixture{
		clock: clk,
		source: &fakeSource{
			drivers: []models.LiveDriver{liveDriver("d1", 10, 10, now), liveDriver("d2", 20, 20, now)},
			gates: map[string]chan []models.LocationHistoryPoint{
				"d1": make(chan []models.LocationHistoryPoint, 1),
				"d2": make(chan []models.LocationHistoryPoint, 1),
			},
		},
		feed:      newFakeFeed(),
		frames:    &frameRecorder{},
		done:      make(chan error, 1),
		histories: map[string]int{},
	}
	fx.session = NewSession(fx.source, fx.feed, clk, Options{
		FrameInterval: 100 * time.Millisecond,
		PollInterval:  time.Hour,
		OnFrame:       fx.frames.record,
		OnHistory: func(driverID string, points []models.LocationHistoryPoint) {
			fx.mu.Lock()
			defer fx.mu.Unlock()
			fx.histories[driverID]++
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { fx.done <- fx.session.Run(ctx) }()
	t.Cleanup(cancel)
	return fx
}

func (fx *sessionFixture) waitFrame(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		fx.clock.Add(100 * time.Millisecond)
		return cond()
	}, 2*time.Second, 5*time.Millisecond)
}

func (fx *sessionFixture) historyCount(id string) int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.histories[id]
}

func (fx *sessionFixture) subscription(t *testing.T) chan FeedEvent {
	t.Helper()
	select {
	case ch := <-fx.feed.subs:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("feed was not subscribed")
		return nil
	}
}

func TestSessionAppliesFeedAndPollsOnDrop(t *testing.T) {
	fx := newSessionFixture(t)
	sub := fx.subscription(t)

	fx.waitFrame(t, func() bool {
		_, ok := fx.frames.marker("d2")
		return ok
	})
	assert.Equal(t, 1, fx.source.pollCount())

	sub <- FeedEvent{Location: &models.LocationUpdateEvent{DriverID: "d1", Latitude: 10.001, Longitude: 10}}
	sub <- FeedEvent{Location: &models.LocationUpdateEvent{DriverID: "ghost", Latitude: 1, Longitude: 1}}

	want := Position{Lat: 10.001, Lng: 10}
	fx.waitFrame(t, func() bool {
		m, _ := fx.frames.marker("d1")
		return m.Position == want && !m.Animating
	})
	_, ghost := fx.frames.marker("ghost")
	assert.False(t, ghost)

	close(sub)
	require.Eventually(t, func() bool { return fx.source.pollCount() == 2 }, 2*time.Second, 5*time.Millisecond,
		"a dropped feed triggers an immediate poll")

	// Redial after backoff
	require.Eventually(t, func() bool {
		fx.clock.Add(time.Second)
		return len(fx.feed.subs) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionDiscardsStaleHistory(t *testing.T) {
	fx := newSessionFixture(t)
	fx.subscription(t)
	fx.waitFrame(t, func() bool {
		_, ok := fx.frames.marker("d2")
		return ok
	})

	fx.session.Select("d1")
	fx.session.Select("d2")
	fx.source.gates["d2"] <- []models.LocationHistoryPoint{{DriverID: "d2"}}
	fx.source.gates["d1"] <- []models.LocationHistoryPoint{{DriverID: "d1"}}

	require.Eventually(t, func() bool { return fx.historyCount("d2") == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fx.historyCount("d1"), "superseded selection is dropped")

	fx.session.Remove("d2")
	fx.waitFrame(t, func() bool {
		_, ok := fx.frames.marker("d2")
		return !ok
	})
}

func TestSessionClose(t *testing.T) {
	fx := newSessionFixture(t)
	fx.subscription(t)

	fx.session.Close()
	select {
	case err := <-fx.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	// Commands after Close do not block
	fx.session.Select("d1")
	fx.session.Close()
}
