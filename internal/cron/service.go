package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
)

const defaultInterval = time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs the registered jobs on a fixed cadence, one instance at a time
// across the fleet.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run cycles until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.cycle(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// RunOnce runs a single cycle and returns every job failure.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx)
}

func (s *Service) cycle(ctx context.Context) {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run had failures", err)
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.CycleSkipped()
		s.logg.Info(ctx, "another cron instance holds the lock; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	lease, renewable := s.lock.(renewer)
	var errs error
	for i, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			break
		}
		if renewable && i > 0 {
			kept, err := lease.Extend(ctx)
			if err != nil {
				return multierr.Append(errs, fmt.Errorf("lock extend: %w", err))
			}
			if !kept {
				return multierr.Append(errs, errLeaseLost)
			}
		}
		errs = multierr.Append(errs, s.runJob(ctx, job))
	}
	return errs
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	start := time.Now()
	err := job.Run(jobCtx)
	finished := time.Now()
	took := finished.Sub(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	s.metrics.JobFinished(job.Name(), took, finished, err)

	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	s.logg.Debug(jobCtx, "job completed")
	return nil
}
