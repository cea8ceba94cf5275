// Package scheduler runs recurring maintenance jobs on cron schedules using
// robfig/cron as the timing engine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

// Job is one schedulable maintenance operation.
type Job struct {
	// Name identifies the job in logs.
	Name string
	// Schedule is a 6-field cron expression (sec min hour dom month dow).
	Schedule string
	// Run performs the work.
	Run func(ctx context.Context) error
}

// Scheduler owns the cron instance and the registered jobs.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger *slog.Logger
}

// New creates a scheduler. Jobs run against the provided context so
// shutdown cancels in-flight work.
func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		ctx:    ctx,
		logger: logger.With("component", "scheduler"),
	}
}

// Register adds a job. An empty schedule disables it silently; a malformed
// one is an error.
func (s *Scheduler) Register(job Job) error {
	if strings.TrimSpace(job.Schedule) == "" {
		s.logger.Debug("job disabled, no schedule", slog.String("job", job.Name))
		return nil
	}

	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.logger.Info("scheduled job starting", slog.String("job", job.Name))
		if err := job.Run(s.ctx); err != nil {
			s.logger.Error("scheduled job failed",
				slog.String("job", job.Name),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Info("scheduled job finished", slog.String("job", job.Name))
	})
	if err != nil {
		return fmt.Errorf("registering job %s: %w", job.Name, err)
	}

	s.logger.Info("job scheduled",
		slog.String("job", job.Name),
		slog.String("schedule", job.Schedule),
	)
	return nil
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
