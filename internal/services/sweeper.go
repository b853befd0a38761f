package services

import (
	"context"
	"fmt"
	"log"

	"fleettrack-backend/internal/config"
	"fleettrack-backend/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron/v2"
)

// Sweeper runs the periodic housekeeping jobs: silent drivers go offline and old
// history rows are pruned
type Sweeper struct {
	store     SweeperStore
	publisher Publisher
	cfg       config.Sweeper
	clock     clock.Clock
	scheduler gocron.Scheduler
}

// NewSweeper creates the sweeper and registers its jobs. Call Start to begin running them.
func NewSweeper(store SweeperStore, publisher Publisher, cfg config.Sweeper, clk clock.Clock) (*Sweeper, error) {
	if publisher == nil {
		publisher = Publishers{}
	}
	if clk == nil {
		clk = clock.New()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Sweeper{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		clock:     clk,
		scheduler: scheduler,
	}

	jobs := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"mark-silent-offline", s.MarkSilentOffline},
		{"prune-history", s.pruneHistoryJob},
	}
	for _, job := range jobs {
		fn := job.fn
		name := job.name
		_, err := scheduler.NewJob(
			gocron.DurationJob(cfg.Interval),
			gocron.NewTask(func() {
				if err := fn(context.Background()); err != nil {
					log.Printf("❌ Sweeper job %s failed: %v", name, err)
				}
			}),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("register sweeper job %s: %w", name, err)
		}
	}

	return s, nil
}

// Start begins running the jobs on the configured interval
func (s *Sweeper) Start() {
	log.Printf("🧹 Sweeper started (every %s, offline after %s, retention %s)",
		s.cfg.Interval, s.cfg.OfflineAfter, s.cfg.HistoryRetention)
	s.scheduler.Start()
}

// Stop shuts the scheduler down and waits for running jobs
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

// MarkSilentOffline marks every active driver whose last heartbeat is older than
// OfflineAfter as offline. Device pointers are left untouched, so the same identity can
// resume reporting without reconnecting.
func (s *Sweeper) MarkSilentOffline(ctx context.Context) error {
	now := s.clock.Now()
	silentSince := now.Add(-s.cfg.OfflineAfter).Unix()

	drivers, err := s.store.MarkSilentDriversOffline(ctx, silentSince, now.Unix())
	if err != nil {
		return fmt.Errorf("mark silent drivers offline: %w", err)
	}

	for i := range drivers {
		d := drivers[i]
		d.Status = models.DriverStatusOffline
		s.publisher.PublishStatus(ctx, statusEvent(&d))
	}
	if len(drivers) > 0 {
		log.Printf("🔴 Sweeper marked %d silent driver(s) offline", len(drivers))
	}
	return nil
}

// PruneHistory deletes history rows created before the retention window and returns the count
func (s *Sweeper) PruneHistory(ctx context.Context) (int64, error) {
	before := s.clock.Now().Add(-s.cfg.HistoryRetention).Unix()
	n, err := s.store.PruneHistory(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return n, nil
}

func (s *Sweeper) pruneHistoryJob(ctx context.Context) error {
	n, err := s.PruneHistory(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("🗑️  Pruned %d location history row(s)", n)
	}
	return nil
}
