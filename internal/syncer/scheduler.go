package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
	"go.uber.org/zap"
)

// Runner starts sync runs. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (*models.SyncRun, error)
}

// Scheduler triggers incremental runs at a fixed interval.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler. A non-positive interval disables it.
func NewScheduler(runner Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Start runs the schedule until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.logger.Info("sync scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Trigger(ctx, s.runner, TriggerSchedule, s.logger)
		}
	}
}

// Trigger starts an incremental run and logs its outcome. A run that is already
// in progress is not an error.
func Trigger(ctx context.Context, runner Runner, trigger string, logger *zap.Logger) {
	run, err := runner.Run(ctx, RunOptions{Mode: models.SyncIncremental, Trigger: trigger})
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		logger.Debug("sync already running, trigger ignored", zap.String("trigger", trigger))
	case err != nil:
		logger.Error("triggered sync failed", zap.String("trigger", trigger), zap.Error(err))
	default:
		logger.Debug("triggered sync finished",
			zap.String("trigger", trigger),
			zap.String("status", string(run.Status)))
	}
}
