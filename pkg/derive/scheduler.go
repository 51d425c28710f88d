package derive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule rebuilds every fifteen minutes
const DefaultSchedule = "*/15 * * * *"

// Scheduler runs rebuilds on a cron schedule
type Scheduler struct {
	cron    *cron.Cron
	engine  *Engine
	timeout time.Duration
	logger  *observability.Logger
}

// NewScheduler creates a scheduler for the given five-field cron expression
func NewScheduler(engine *Engine, schedule string, timeout time.Duration, logger *observability.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{
		cron:    cron.New(),
		engine:  engine,
		timeout: timeout,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("failed to schedule rebuild %q: %w", schedule, err)
	}
	return s, nil
}

// Start starts the cron scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and returns a context that is done once a running
// rebuild has finished
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce performs one scheduled rebuild. Failures are logged, not returned.
func (s *Scheduler) RunOnce() {
	defer observability.RecoverPanic(s.logger, "scheduled role rebuild")

	ctx := observability.WithLogger(context.Background(), s.logger)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.engine.Rebuild(ctx)
	switch {
	case errors.Is(err, ErrRebuildInProgress):
		s.logger.Info("Scheduled rebuild skipped, another rebuild is running")
	case err != nil:
		s.logger.WithError(err).Error("Scheduled rebuild failed")
	default:
		s.logger.Infof("Scheduled rebuild wrote %d roles with %d diagnostics", result.RowsWritten, len(result.Diagnostics))
	}
}
