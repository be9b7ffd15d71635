package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/metrics"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
	Location *time.Location
}

type scheduledJob struct {
	schedule string
	job      Job
	lock     Lock
}

// Service runs each registered job on its own schedule. A job runs on at most
// one replica at a time and never overlaps itself within a replica.
type Service struct {
	logg      *logger.Logger
	metrics   *metrics.CronJobMetrics
	scheduler *robfig.Cron
	jobs      []scheduledJob
}

// NewService validates every schedule and builds the per-job locks.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	loc := params.Location
	if loc == nil {
		loc = time.UTC
	}

	jobs := make([]scheduledJob, 0, len(registry.Entries()))
	for _, entry := range registry.Entries() {
		if _, err := robfig.ParseStandard(entry.Schedule); err != nil {
			return nil, fmt.Errorf("job %s: invalid schedule %q: %w", entry.Job.Name(), entry.Schedule, err)
		}
		lock, err := params.Locks(entry.Job.Name())
		if err != nil {
			return nil, fmt.Errorf("job %s: lock: %w", entry.Job.Name(), err)
		}
		jobs = append(jobs, scheduledJob{schedule: entry.Schedule, job: entry.Job, lock: lock})
	}

	cronLogg := cronLogger{logg: params.Logger}
	scheduler := robfig.New(
		robfig.WithLocation(loc),
		robfig.WithLogger(cronLogg),
		robfig.WithChain(robfig.Recover(cronLogg), robfig.SkipIfStillRunning(cronLogg)),
	)
	return &Service{
		logg:      params.Logger,
		metrics:   params.Metrics,
		scheduler: scheduler,
		jobs:      jobs,
	}, nil
}

// Run schedules every job and blocks until the context is canceled, then
// waits for in-flight jobs to finish.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, j := range s.jobs {
		j := j
		if _, err := s.scheduler.AddFunc(j.schedule, func() { s.runJob(ctx, j) }); err != nil {
			return fmt.Errorf("schedule %s: %w", j.job.Name(), err)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"job":      j.job.Name(),
			"schedule": j.schedule,
		}), "job scheduled")
	}
	s.scheduler.Start()

	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-s.scheduler.Stop().Done()
	return ctx.Err()
}

// RunOnce runs every job once in registration order.
func (s *Service) RunOnce(ctx context.Context) {
	for _, j := range s.jobs {
		s.runJob(ctx, j)
	}
}

func (s *Service) runJob(ctx context.Context, j scheduledJob) {
	name := j.job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	locked, err := j.lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "job lock acquire failed", err)
		s.metrics.IncFailure(name)
		return
	}
	if !locked {
		s.logg.Info(jobCtx, "job running on another instance; skipping")
		s.metrics.IncSkipped(name)
		return
	}
	defer func() {
		if relErr := j.lock.Release(jobCtx); relErr != nil {
			s.logg.Error(jobCtx, "failed to release job lock", relErr)
		}
	}()

	s.logg.Debug(jobCtx, "job start")
	start := time.Now()
	err = j.job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(name, duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(name)
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(name)
}
