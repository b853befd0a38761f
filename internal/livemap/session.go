package livemap

import (
	"context"
	"log"
	"sync"
	"time"

	"fleettrack-backend/internal/models"

	"github.com/benbjohnson/clock"
)

// Options configures a Session. Zero values take the defaults.
type Options struct {
	FrameInterval time.Duration
	PollInterval  time.Duration
	RedialMin     time.Duration
	RedialMax     time.Duration
	HistoryWindow time.Duration
	HistoryLimit  int
	Thresholds    Thresholds

	// Callbacks run on the session goroutine
	OnFrame   func([]MarkerState)
	OnHistory func(driverID string, points []models.LocationHistoryPoint)
	OnError   func(error)
}

func (o Options) withDefaults() Options {
	if o.FrameInterval <= 0 {
		o.FrameInterval = 50 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.RedialMin <= 0 {
		o.RedialMin = time.Second
	}
	if o.RedialMax <= 0 {
		o.RedialMax = 30 * time.Second
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 2 * time.Hour
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 500
	}
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
	return o
}

type pollResult struct {
	drivers []models.LiveDriver
	err     error
}

type historyResult struct {
	driverID string
	gen      uint64
	points   []models.LocationHistoryPoint
	err      error
}

type commandKind int

const (
	cmdSelect commandKind = iota
	cmdDeselect
	cmdRemove
)

type command struct {
	kind     commandKind
	driverID string
}

// Session owns everything one dispatcher view needs: the markers, the feed
// subscription, the fallback poller and the selected driver's trail fetch.
// All view state is touched only by the Run goroutine.
type Session struct {
	source Source
	feed   Feed
	clock  clock.Clock
	opts   Options
	view   *View

	commands  chan command
	polls     chan pollResult
	histories chan historyResult
	feedState chan bool
	events    chan FeedEvent

	closeOnce sync.Once
	closed    chan struct{}

	// Run goroutine only
	selected      string
	historyGen    uint64
	cancelHistory context.CancelFunc
	polling       bool
}

// NewSession creates a session; feed may be nil for poll-only operation
func NewSession(source Source, feed Feed, clk clock.Clock, opts Options) *Session {
	if clk == nil {
		clk = clock.New()
	}
	opts = opts.withDefaults()
	return &Session{
		source:    source,
		feed:      feed,
		clock:     clk,
		opts:      opts,
		view:      NewView(clk, opts.Thresholds),
		commands:  make(chan command, 16),
		polls:     make(chan pollResult, 1),
		histories: make(chan historyResult, 1),
		feedState: make(chan bool, 4),
		events:    make(chan FeedEvent, 64),
		closed:    make(chan struct{}),
	}
}

// Run drives the session until ctx is cancelled or Close is called
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if s.cancelHistory != nil {
			s.cancelHistory()
		}
	}()

	if s.feed != nil {
		go s.runFeed(ctx)
	}

	frames := s.clock.Ticker(s.opts.FrameInterval)
	defer frames.Stop()
	polls := s.clock.Ticker(s.opts.PollInterval)
	defer polls.Stop()

	s.startPoll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil

		case <-frames.C:
			if s.opts.OnFrame != nil {
				s.opts.OnFrame(s.view.Frame())
			}

		case <-polls.C:
			s.startPoll(ctx)

		case res := <-s.polls:
			s.polling = false
			if res.err != nil {
				s.reportError(res.err)
				continue
			}
			s.view.ApplySnapshot(res.drivers)
			if s.selected != "" && !s.view.Has(s.selected) {
				s.deselect()
			}

		case ev := <-s.events:
			switch {
			case ev.Location != nil:
				s.view.ApplyLocation(*ev.Location)
			case ev.Status != nil:
				s.view.ApplyStatus(*ev.Status)
			}

		case up := <-s.feedState:
			if !up {
				// Feed dropped: catch up on whatever was missed
				s.startPoll(ctx)
			}

		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)

		case res := <-s.histories:
			if res.gen != s.historyGen || res.driverID != s.selected || !s.view.Has(res.driverID) {
				continue
			}
			if res.err != nil {
				s.reportError(res.err)
				continue
			}
			if s.opts.OnHistory != nil {
				s.opts.OnHistory(res.driverID, res.points)
			}
		}
	}
}

// Select shows a driver's trail; any in-flight fetch for a previous selection is cancelled
func (s *Session) Select(driverID string) {
	s.send(command{kind: cmdSelect, driverID: driverID})
}

// Deselect clears the selection and cancels its trail fetch
func (s *Session) Deselect() {
	s.send(command{kind: cmdDeselect})
}

// Remove takes a driver off screen until the next poll brings it back
func (s *Session) Remove(driverID string) {
	s.send(command{kind: cmdRemove, driverID: driverID})
}

// Close tears the session down; Run returns shortly after
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Session) send(cmd command) {
	select {
	case s.commands <- cmd:
	case <-s.closed:
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSelect:
		if !s.view.Has(cmd.driverID) {
			return
		}
		s.deselect()
		s.selected = cmd.driverID
		s.startHistory(ctx, cmd.driverID)
	case cmdDeselect:
		s.deselect()
	case cmdRemove:
		if s.selected == cmd.driverID {
			s.deselect()
		}
		s.view.Remove(cmd.driverID)
	}
}

func (s *Session) deselect() {
	if s.cancelHistory != nil {
		s.cancelHistory()
		s.cancelHistory = nil
	}
	if s.selected != "" {
		s.view.StopAnimation(s.selected)
	}
	s.selected = ""
	s.historyGen++
}

func (s *Session) startHistory(ctx context.Context, driverID string) {
	s.historyGen++
	gen := s.historyGen
	hctx, cancel := context.WithCancel(ctx)
	s.cancelHistory = cancel
	since := s.clock.Now().Add(-s.opts.HistoryWindow)

	go func() {
		points, err := s.source.History(hctx, driverID, since, s.opts.HistoryLimit)
		if hctx.Err() != nil {
			return
		}
		select {
		case s.histories <- historyResult{driverID: driverID, gen: gen, points: points, err: err}:
		case <-hctx.Done():
		}
	}()
}

// startPoll fetches the roster unless a fetch is already in flight
func (s *Session) startPoll(ctx context.Context) {
	if s.polling {
		return
	}
	s.polling = true
	go func() {
		drivers, err := s.source.LiveDrivers(ctx)
		select {
		case s.polls <- pollResult{drivers: drivers, err: err}:
		case <-ctx.Done():
		}
	}()
}

// runFeed keeps the change feed subscribed, redialing with exponential backoff
func (s *Session) runFeed(ctx context.Context) {
	backoff := s.opts.RedialMin
	for {
		events, err := s.feed.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("⚠️  Feed subscribe failed: %v. Retrying in %v...", err, backoff)
		} else {
			backoff = s.opts.RedialMin
			s.notifyFeed(ctx, true)
			for ev := range events {
				select {
				case s.events <- ev:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
		s.notifyFeed(ctx, false)

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.RedialMax {
			backoff = s.opts.RedialMax
		}
	}
}

func (s *Session) notifyFeed(ctx context.Context, up bool) {
	select {
	case s.feedState <- up:
	case <-ctx.Done():
	}
}

func (s *Session) reportError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
		return
	}
	log.Printf("⚠️  Live map: %v", err)
}
