// Package scheduler ticks every active job on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/internal/cache"
	"github.com/kiranshivaraju/datapump/pkg/models"
	"golang.org/x/sync/errgroup"
)

// JobLister returns the jobs that still need ticking.
type JobLister interface {
	ListActiveJobs(ctx context.Context, limit int) ([]*models.Job, error)
}

// Ticker advances a single job.
type Ticker interface {
	Tick(ctx context.Context, id uuid.UUID) (models.Job, error)
}

// Locker serializes ticks of the same job across processes.
type Locker interface {
	AcquireJobLock(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (string, error)
	ReleaseJobLock(ctx context.Context, jobID uuid.UUID, token string) error
}

type Config struct {
	Interval    time.Duration
	Concurrency int
	BatchSize   int
	LockTTL     time.Duration
}

// Scheduler has no backoff: a job whose tick fails is simply ticked again
// on the next interval.
type Scheduler struct {
	cfg    Config
	jobs   JobLister
	ticker Ticker
	locks  Locker
	logger *slog.Logger
}

func New(cfg Config, jobs JobLister, ticker Ticker, locks Locker) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		cfg:    cfg,
		jobs:   jobs,
		ticker: ticker,
		locks:  locks,
		logger: slog.Default().With("component", "scheduler"),
	}
}

// Run ticks jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()

	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "concurrency", s.cfg.Concurrency)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce ticks each active job once and returns how many were ticked.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	active, err := s.jobs.ListActiveJobs(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "list active jobs failed", "error", err)
		return 0
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	ticked := make([]bool, len(active))
	for i, job := range active {
		g.Go(func() error {
			ticked[i] = s.tickLocked(ctx, job.ID)
			return nil
		})
	}
	g.Wait()

	n := 0
	for _, ok := range ticked {
		if ok {
			n++
		}
	}
	return n
}

func (s *Scheduler) tickLocked(ctx context.Context, id uuid.UUID) bool {
	_, err := s.Tick(ctx, id)
	switch {
	case errors.Is(err, apperrors.ErrConflict):
		s.logger.DebugContext(ctx, "job locked elsewhere", "job_id", id)
		return false
	case errors.Is(err, errLock):
		s.logger.ErrorContext(ctx, "acquire job lock failed", "job_id", id, "error", err)
		return false
	case err != nil:
		s.logger.WarnContext(ctx, "tick failed", "job_id", id, "error", err)
	}
	return true
}

var errLock = errors.New("job lock")

// Tick advances one job while holding its lock. It returns a conflict error
// when another worker holds the lock.
func (s *Scheduler) Tick(ctx context.Context, id uuid.UUID) (models.Job, error) {
	token, err := s.locks.AcquireJobLock(ctx, id, s.cfg.LockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return models.Job{}, &apperrors.Error{
			Sentinel: apperrors.ErrConflict,
			Message:  fmt.Sprintf("job %s is being ticked elsewhere", id),
		}
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: %w", errLock, err)
	}
	defer func() {
		if err := s.locks.ReleaseJobLock(context.WithoutCancel(ctx), id, token); err != nil {
			s.logger.WarnContext(ctx, "release job lock failed", "job_id", id, "error", err)
		}
	}()

	return s.ticker.Tick(ctx, id)
}
