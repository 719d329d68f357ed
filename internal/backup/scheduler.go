package backup

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// Clock abstracts time for the scheduler so cycles can be driven
// deterministically by a fake clock in tests. Production code never
// reads ambient global time for scheduling decisions.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that delivers the time after d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// RealClock is the production Clock backed by the time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// After returns a channel that delivers the time after d has elapsed.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// CycleRunner runs one backup cycle. Implemented by Orchestrator.
type CycleRunner interface {
	RunCycle(ctx context.Context) *CycleResult
}

// Scheduler fires backup cycles on a cron schedule. One scheduler
// instance owns the schedule and the clock; the interactive restore
// path is independent of it and only meets the backup path at the
// per-store-type locks.
type Scheduler struct {
	schedule cron.Schedule
	clock    Clock
	runner   CycleRunner
	logger   *logging.Logger
}

// NewScheduler parses a standard five-field cron expression and returns
// a scheduler driving runner on that schedule.
func NewScheduler(cronExpression string, clock Clock, runner CycleRunner, logger *logging.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(cronExpression)
	if err != nil {
		return nil, NewConfigurationError("invalid cron expression: "+cronExpression, err)
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &Scheduler{
		schedule: schedule,
		clock:    clock,
		runner:   runner,
		logger:   logger,
	}, nil
}

// NextFire returns the next scheduled fire time after t.
func (s *Scheduler) NextFire(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run fires cycles until the context is cancelled. A cycle that
// overruns its slot simply delays the next one; cycles never overlap
// from this scheduler since it waits for each to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.clock.Now()
		next := s.schedule.Next(now)
		s.logger.Infof("Next backup cycle scheduled at %s", next.Format(time.RFC3339))

		select {
		case <-s.clock.After(next.Sub(now)):
		case <-ctx.Done():
			return ctx.Err()
		}

		result := s.runner.RunCycle(ctx)
		if result.AllVerified() {
			s.logger.Info("Scheduled backup cycle completed: all stores verified")
		} else {
			s.logger.Warnf("Scheduled backup cycle completed with failures: %s", result.Summary())
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
