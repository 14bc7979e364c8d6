// Package scheduler triggers sync runs on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/config"
	"github.com/JakeFAU/menu-catalog-sync/internal/reconcile"
)

// Runner is the part of the reconciler the scheduler drives.
type Runner interface {
	Run(ctx context.Context, opts reconcile.RunOptions) catalog.SyncRunResult
	Running() bool
}

// Config controls the tick interval.
type Config struct {
	Interval time.Duration
	// RunOnStart triggers one run before the first tick.
	RunOnStart bool
}

// Scheduler invokes a Runner every Interval until its context ends.
type Scheduler struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
}

// ParseFrequency maps hourly, twicedaily or daily to its interval.
func ParseFrequency(name string) (time.Duration, error) {
	d, err := config.ParseFrequency(name)
	if err != nil {
		return 0, fmt.Errorf("scheduler: %w", err)
	}
	return d, nil
}

// New builds a Scheduler.
func New(cfg Config, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler runner is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, runner: runner, logger: logger.Named("scheduler")}, nil
}

// Run blocks, triggering a sync on every tick, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	if s.cfg.RunOnStart {
		s.trigger(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if s.runner.Running() {
		s.logger.Info("scheduled sync skipped: run in progress")
		return
	}
	result := s.runner.Run(ctx, reconcile.RunOptions{})
	fields := []zap.Field{
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)),
		zap.Int("synced", result.Synced),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
	}
	switch {
	case result.Busy:
		s.logger.Info("scheduled sync skipped: lock held elsewhere", fields...)
	case result.Status == catalog.RunStatusError:
		s.logger.Warn("scheduled sync failed", fields...)
	default:
		s.logger.Info("scheduled sync finished", fields...)
	}
}
