// Package scheduler triggers multi-account syncs on a cron expression or a
// fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"listingsync/config"
	"listingsync/models"
	"listingsync/services"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// SyncRunner is the part of the sync service the scheduler drives.
type SyncRunner interface {
	SyncAll(ctx context.Context, opts services.SyncOptions) ([]*models.SyncResult, error)
}

type Scheduler struct {
	cfg    config.SchedulerConfig
	runner SyncRunner
	opts   services.SyncOptions
	logger *zap.Logger
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once

	// running guards against overlapping runs of the same accounts.
	running sync.Mutex

	sweeper Triggerable
}

func New(cfg config.SchedulerConfig, runner SyncRunner, opts services.SyncOptions, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		opts:   opts,
		logger: logger.Named("scheduler"),
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

// SetWorkers registers background workers for manual triggering
func (s *Scheduler) SetWorkers(sweeper Triggerable) {
	s.sweeper = sweeper
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Cron != "" {
		s.logger.Info("starting scheduler", zap.String("cron", s.cfg.Cron))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.runOnce(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		s.logger.Info("starting scheduler", zap.Duration("interval", s.cfg.Interval))
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runOnce(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.logger.Info("no sync schedule configured")
	}

	return nil
}

func (s *Scheduler) Stop() {
	s.once.Do(func() {
		ctx := s.cron.Stop()
		<-ctx.Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

// TriggerNow runs a sync immediately and waits for it.
func (s *Scheduler) TriggerNow(ctx context.Context) ([]*models.SyncResult, error) {
	s.running.Lock()
	defer s.running.Unlock()
	return s.runner.SyncAll(ctx, s.opts)
}

// runOnce skips a tick while the previous run is still going.
func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("previous sync still running, skipping tick")
		return
	}
	defer s.running.Unlock()

	results, err := s.runner.SyncAll(ctx, s.opts)
	if err != nil {
		s.logger.Error("scheduled sync failed", zap.Error(err))
		return
	}
	var failed int
	for _, r := range results {
		if r.Status == models.SyncStatusFailed {
			failed++
		}
	}
	s.logger.Info("scheduled sync finished", zap.Int("accounts", len(results)), zap.Int("failed", failed))

	if s.sweeper != nil {
		s.sweeper.Trigger()
	}
}
