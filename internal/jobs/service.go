// Package jobs drives persisted jobs through their engines. It is the only
// place that knows about both job kinds, the store, and operator alerts.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/internal/notify"
	"github.com/kiranshivaraju/datapump/internal/observability"
	"github.com/kiranshivaraju/datapump/internal/store"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

const (
	statusTTL      = 24 * time.Hour
	defaultLockTTL = 5 * time.Minute
)

// ClusterEngine advances analysis jobs.
type ClusterEngine interface {
	Start(ctx context.Context, job models.Job) (models.Job, error)
	PollStatus(ctx context.Context, job models.Job) (models.Job, error)
}

// PipelineEngine advances version-update jobs.
type PipelineEngine interface {
	Advance(ctx context.Context, job models.Job) (models.Job, error)
}

// Locker serializes engine calls for the same job across processes.
type Locker interface {
	AcquireJobLock(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (string, error)
	ReleaseJobLock(ctx context.Context, jobID uuid.UUID, token string) error
}

// AreaUpdater marks the areas listed in a feature file as analysed.
type AreaUpdater interface {
	MarkSaved(ctx context.Context, featuresURI string) (int, error)
}

// StatusCache keeps the latest known status of each job.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
}

// Service submits and ticks jobs. Callers must serialize Tick per job with
// the same Locker the Service is given; submissions take it themselves.
type Service struct {
	store     store.Store
	clusters  ClusterEngine
	pipelines PipelineEngine
	cache     StatusCache
	notifier  notify.Notifier
	metrics   *observability.Metrics
	locks     Locker
	lockTTL   time.Duration
	areas     AreaUpdater
}

// Options holds the Service collaborators. Cache, Notifier, Metrics, Locks
// and Areas are optional; without Locks the first step of a submission runs
// unlocked.
type Options struct {
	Store     store.Store
	Clusters  ClusterEngine
	Pipelines PipelineEngine
	Cache     StatusCache
	Notifier  notify.Notifier
	Metrics   *observability.Metrics
	Locks     Locker
	LockTTL   time.Duration
	Areas     AreaUpdater
}

func NewService(opts Options) *Service {
	n := opts.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		store:     opts.Store,
		clusters:  opts.Clusters,
		pipelines: opts.Pipelines,
		cache:     opts.Cache,
		notifier:  n,
		metrics:   opts.Metrics,
		locks:     opts.Locks,
		lockTTL:   ttl,
		areas:     opts.Areas,
	}
}

// SubmitAnalysis persists a new analysis job and attempts its first step.
func (s *Service) SubmitAnalysis(ctx context.Context, payload models.AnalysisJob) (models.Job, error) {
	payload.Normalize()
	if err := payload.Validate(); err != nil {
		return models.Job{}, apperrors.Validation("analysis", err.Error())
	}
	return s.submit(ctx, models.NewAnalysisJob(payload))
}

// SubmitVersionUpdate persists a new version-update job and attempts its
// first step.
func (s *Service) SubmitVersionUpdate(ctx context.Context, payload models.VersionUpdateJob) (models.Job, error) {
	if err := payload.Validate(); err != nil {
		return models.Job{}, apperrors.Validation("version_update", err.Error())
	}
	return s.submit(ctx, models.NewVersionUpdateJob(payload))
}

func (s *Service) submit(ctx context.Context, job models.Job) (models.Job, error) {
	if err := job.Validate(); err != nil {
		return models.Job{}, apperrors.Validation("job", err.Error())
	}

	// The lock is taken before the job is persisted, so the invoker can
	// never pick it up while the first step is running.
	release, locked := s.lock(ctx, job.ID)
	defer release()

	if err := s.store.CreateJob(ctx, &job); err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordJobSubmitted(ctx, string(job.Kind))
	}
	s.cacheStatus(ctx, job)

	slog.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"kind", job.Kind,
	)

	if !locked {
		slog.WarnContext(ctx, "first step deferred", "job_id", job.ID, "reason", "job lock unavailable")
		return job, nil
	}

	// A first step that fails is retried by the scheduler; the job is
	// already accepted.
	next, err := s.step(ctx, job)
	if err != nil {
		slog.WarnContext(ctx, "first step deferred",
			"job_id", job.ID,
			"error", err,
		)
		return job, nil
	}
	return next, nil
}

// Get returns the persisted job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Job{}, apperrors.NotFound("job", id.String())
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	return *job, nil
}

// Status returns the job status, preferring the cache over the store.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	if s.cache != nil {
		status, ok, err := s.cache.GetJobStatus(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "status cache read failed", "job_id", id, "error", err)
		} else if ok {
			return models.JobStatus(status), nil
		}
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, job)
	return job.Status, nil
}

// Tick loads a job and advances it by at most one step.
func (s *Service) Tick(ctx context.Context, id uuid.UUID) (models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	if job.HaltedAt != nil {
		return job, apperrors.InvalidState("jobs.tick", fmt.Sprintf("job %s is halted", job.ID))
	}
	return s.step(ctx, job)
}

// step runs one engine call for job and persists the outcome. On error the
// stored job is left as it was, except that an invalid-state error halts it.
func (s *Service) step(ctx context.Context, job models.Job) (models.Job, error) {
	if job.Status.IsTerminal() {
		return job, nil
	}

	logger := slog.With("job_id", job.ID, "kind", job.Kind)
	start := time.Now()
	next, err := s.dispatch(ctx, job)
	if s.metrics != nil {
		s.metrics.RecordTick(ctx, string(job.Kind), time.Since(start).Seconds())
	}
	if err != nil {
		s.recordError(ctx, job, err)
		switch {
		case errors.Is(err, apperrors.ErrInvalidState):
			s.halt(ctx, job, err)
		case job.Kind == models.JobKindAnalysis && job.Status == models.JobStatusPending &&
			(errors.Is(err, apperrors.ErrSubmission) || errors.Is(err, apperrors.ErrNotFound)):
			logger.WarnContext(ctx, "cluster submission failed", "error", err)
			s.reportSubmissionFailure(ctx, job, err)
		default:
			logger.WarnContext(ctx, "job step failed", "position", job.Position(), "error", err)
		}
		return job, err
	}

	if next.Status == job.Status && next.Position() == job.Position() {
		return job, nil
	}
	if job.Status == models.JobStatusPending {
		next.ErrorMessage = nil
	}

	if next.Kind == models.JobKindAnalysis && next.Status == models.JobStatusComplete {
		if err := s.finishAnalysis(ctx, next); err != nil {
			s.recordError(ctx, job, err)
			logger.ErrorContext(ctx, "completion follow-up failed", "error", err)
			return job, err
		}
	}

	if err := s.store.UpdateJob(ctx, &next); err != nil {
		return job, fmt.Errorf("update job: %w", err)
	}
	s.cacheStatus(ctx, next)
	if s.metrics != nil {
		s.metrics.RecordTransition(ctx, string(job.Kind), job.Position(), next.Position())
	}

	logger.InfoContext(ctx, "job transitioned",
		"from", job.Position(),
		"to", next.Position(),
		"status", next.Status,
	)

	if next.Status == models.JobStatusFailed {
		s.notifier.Notify(ctx, notify.LevelError,
			fmt.Sprintf("Job %s (%s) failed at %s", job.ID, job.Kind, job.Position()))
	}
	return next, nil
}

func (s *Service) dispatch(ctx context.Context, job models.Job) (models.Job, error) {
	switch job.Kind {
	case models.JobKindAnalysis:
		if job.Status == models.JobStatusPending {
			return s.clusters.Start(ctx, job)
		}
		return s.clusters.PollStatus(ctx, job)
	case models.JobKindVersionUpdate:
		return s.pipelines.Advance(ctx, job)
	default:
		return job, apperrors.InvalidState("jobs.dispatch", fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}

// finishAnalysis runs the side effects of a completed analysis before it is
// stored as complete. Each is safe to repeat, so a failure leaves the job
// executing and the next tick retries all of them.
func (s *Service) finishAnalysis(ctx context.Context, job models.Job) error {
	a := job.Analysis
	if a.Sync {
		if err := s.postprocess(ctx, job); err != nil {
			return err
		}
	}
	if s.areas != nil && a.Table.IsGeostore() {
		if _, err := s.areas.MarkSaved(ctx, a.FeaturesURI); err != nil {
			return fmt.Errorf("update area statuses: %w", err)
		}
	}
	return nil
}

// postprocess records one registry entry per sync type of a completed
// analysis. Entries are upserts, so a retry after a failed write is safe.
func (s *Service) postprocess(ctx context.Context, job models.Job) error {
	a := job.Analysis
	batch := s.store.NewSyncBatch()
	types := models.SyncTypesFor(a.Table.Dataset, a.Table.Analysis)
	for _, syncType := range types {
		batch.Record(models.SyncConfig{
			AnalysisVersion: a.Version,
			Dataset:         a.Table.Dataset,
			DatasetVersion:  a.Table.Version,
			Analysis:        a.Table.Analysis,
			Sync:            a.Sync,
			SyncType:        syncType,
			Metadata: map[string]string{
				"geotrellis_version": a.JarVersion,
				"features_1x1":       a.FeaturesURI,
			},
		})
	}
	if err := batch.Close(ctx); err != nil {
		return fmt.Errorf("write sync configs: %w", err)
	}
	slog.InfoContext(ctx, "sync configs recorded",
		"job_id", job.ID,
		"dataset", a.Table.Dataset,
		"analysis", a.Table.Analysis,
		"count", len(types),
	)
	return nil
}

// reportSubmissionFailure alerts once per job: the error is stored on the
// still-pending job and later failures of the same job stay quiet.
func (s *Service) reportSubmissionFailure(ctx context.Context, job models.Job, cause error) {
	if job.ErrorMessage != nil {
		return
	}
	s.notifier.Notify(ctx, notify.LevelError,
		fmt.Sprintf("Job %s (%s) could not be submitted: %v", job.ID, job.Kind, cause))

	msg := cause.Error()
	marked := job.Clone()
	marked.ErrorMessage = &msg
	if err := s.store.UpdateJob(ctx, &marked); err != nil {
		slog.WarnContext(ctx, "record submission failure failed", "job_id", job.ID, "error", err)
	}
}

// lock takes the job's lock when a Locker is configured. ok is false when
// the lock could not be taken.
func (s *Service) lock(ctx context.Context, id uuid.UUID) (release func(), ok bool) {
	if s.locks == nil {
		return func() {}, true
	}
	token, err := s.locks.AcquireJobLock(ctx, id, s.lockTTL)
	if err != nil {
		slog.WarnContext(ctx, "acquire job lock failed", "job_id", id, "error", err)
		return func() {}, false
	}
	return func() {
		if err := s.locks.ReleaseJobLock(context.WithoutCancel(ctx), id, token); err != nil {
			slog.WarnContext(ctx, "release job lock failed", "job_id", id, "error", err)
		}
	}, true
}

func (s *Service) halt(ctx context.Context, job models.Job, cause error) {
	logger := slog.With("job_id", job.ID, "kind", job.Kind)
	if err := s.store.HaltJob(ctx, job.ID, cause.Error()); err != nil {
		logger.ErrorContext(ctx, "halt job failed", "error", err)
	}
	logger.ErrorContext(ctx, "job halted", "position", job.Position(), "error", cause)
	s.notifier.Notify(ctx, notify.LevelError,
		fmt.Sprintf("Job %s (%s) halted at %s: %v", job.ID, job.Kind, job.Position(), cause))
}

func (s *Service) recordError(ctx context.Context, job models.Job, err error) {
	if s.metrics != nil {
		s.metrics.RecordJobError(ctx, string(job.Kind), errorReason(err))
	}
}

func (s *Service) cacheStatus(ctx context.Context, job models.Job) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJobStatus(ctx, job.ID, string(job.Status), statusTTL); err != nil {
		slog.WarnContext(ctx, "status cache write failed", "job_id", job.ID, "error", err)
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrSubmission):
		return "submission"
	case errors.Is(err, apperrors.ErrServiceResponse):
		return "service_response"
	case errors.Is(err, apperrors.ErrInvalidState):
		return "invalid_state"
	default:
		return "internal"
	}
}
