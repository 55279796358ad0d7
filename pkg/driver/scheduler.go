package driver

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the jobs on their cron schedules.
// A job whose previous run is still going is skipped.
type Scheduler struct {
	driver   *Driver
	schedule map[string]string
	options  Options
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// NewScheduler creates a scheduler for the jobs configured in the driver's
// schedule section. Scheduled runs use the sync setting of that section and
// discard their rows; the history store keeps them.
func NewScheduler(d *Driver) *Scheduler {
	logger := d.telemetry.Logger.Component("scheduler")
	cronLogger := logger.With().Str("source", "cron").Logger()

	return &Scheduler{
		driver:   d,
		schedule: d.config.Schedule.Jobs(),
		options: Options{
			Mode:   d.config.Mode(d.config.Schedule.Sync, false),
			Output: io.Discard,
		},
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cron.PrintfLogger(&cronLogger)),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&cronLogger))),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Run starts the schedules and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	<-s.Stop().Done()
	return nil
}

// Start registers every job with a non-empty schedule and starts the cron loop.
// Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range sortedJobs(s.schedule) {
		spec := s.schedule[job]
		if spec == "" {
			s.logger.Debug().Str("job", job).Msg("job not scheduled")
			continue
		}
		id, err := s.cron.AddFunc(spec, func() {
			s.runJob(ctx, job)
		})
		if err != nil {
			return fmt.Errorf("invalid schedule for %s: %w", job, err)
		}
		s.entries[job] = id
		s.logger.Info().Str("job", job).Str("schedule", spec).Msg("job scheduled")
	}

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.entries)).Msg("scheduler started")
	return nil
}

// Stop stops the cron loop. The returned context is done when running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info().Msg("scheduler stopped")
	return ctx
}

// Next returns the next activation time of every scheduled job.
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]time.Time, len(s.entries))
	for job, id := range s.entries {
		next[job] = s.cron.Entry(id).Next
	}
	return next
}

// runJob runs one scheduled job and exports its spans. Errors are logged; the
// schedule keeps going.
func (s *Scheduler) runJob(ctx context.Context, job string) {
	if ctx.Err() != nil {
		return
	}
	summary, err := s.driver.Run(ctx, job, s.options)
	if ferr := s.driver.telemetry.Tracer.ForceFlush(context.WithoutCancel(ctx)); ferr != nil {
		s.logger.Warn().Err(ferr).Str("job", job).Msg("failed to export spans")
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job", job).Msg("scheduled run failed")
		return
	}
	s.logger.Info().
		Str("job", job).
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Msg("scheduled run finished")
}

func sortedJobs(schedule map[string]string) []string {
	jobs := make([]string, 0, len(schedule))
	for job := range schedule {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)
	return jobs
}
