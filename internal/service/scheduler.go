package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// Scheduler runs a periodic reindex on a standard 5-field cron expression.
type Scheduler struct {
	scheduler gocron.Scheduler
	schedule  cron.Schedule
	expr      string
}

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid reindex schedule %q: %w", expr, err)
	}
	return sched, nil
}

// NewScheduler registers the reindex job. It does not start the scheduler.
func NewScheduler(expr string, index *IndexService) (*Scheduler, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(func() {
			res, err := index.Reindex(context.Background())
			if errors.Is(err, port.ErrReindexInProgress) {
				slog.Info("scheduled reindex skipped, one is already running")
				return
			}
			if err != nil {
				slog.Error("scheduled reindex failed", "error", err)
				return
			}
			slog.Info("scheduled reindex completed", "embedded", res.Embedded, "failed", res.Failed, "duration", res.Duration)
		}),
		gocron.WithName("reindex_vectors"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		scheduler.Shutdown()
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return &Scheduler{scheduler: scheduler, schedule: sched, expr: expr}, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	slog.Info("reindex scheduler started", "schedule", s.expr, "next_run", s.NextRun(time.Now()))
	s.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// Expression returns the cron expression.
func (s *Scheduler) Expression() string {
	return s.expr
}

// NextRun returns the next activation after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	return s.schedule.Next(now)
}
