package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, kind, status, payload, error_message, halted_at, created_at, updated_at`

// encodePayload returns the job's step column and its JSON payload.
func encodePayload(job *models.Job) (*string, []byte, error) {
	var (
		step    *string
		payload any
	)
	switch job.Kind {
	case models.JobKindAnalysis:
		payload = job.Analysis
	case models.JobKindVersionUpdate:
		payload = job.VersionUpdate
		if job.VersionUpdate != nil {
			s := string(job.VersionUpdate.Step)
			step = &s
		}
	default:
		return nil, nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode job payload: %w", err)
	}
	return step, raw, nil
}

func decodePayload(job *models.Job, raw []byte) error {
	switch job.Kind {
	case models.JobKindAnalysis:
		job.Analysis = &models.AnalysisJob{}
		return json.Unmarshal(raw, job.Analysis)
	case models.JobKindVersionUpdate:
		job.VersionUpdate = &models.VersionUpdateJob{}
		return json.Unmarshal(raw, job.VersionUpdate)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j   models.Job
		raw []byte
	)
	if err := row.Scan(&j.ID, &j.Kind, &j.Status, &raw, &j.ErrorMessage, &j.HaltedAt,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodePayload(&j, raw); err != nil {
		return nil, fmt.Errorf("decode job %s payload: %w", j.ID, err)
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	step, payload, err := encodePayload(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, kind, status, step, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Kind, job.Status, step, payload, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:   {models.JobStatusPending, models.JobStatusExecuting},
	models.JobStatusExecuting: {models.JobStatusExecuting, models.JobStatusComplete, models.JobStatusFailed},
	models.JobStatusComplete:  {models.JobStatusComplete},
	models.JobStatusFailed:    {models.JobStatusFailed},
}

func validTransition(from, to models.JobStatus) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	step, payload, err := encodePayload(job)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			currentStatus models.JobStatus
			currentStep   *string
		)
		err := tx.QueryRow(ctx, `SELECT status, step FROM jobs WHERE id = $1 FOR UPDATE`, job.ID).
			Scan(&currentStatus, &currentStep)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job status: %w", err)
		}

		if !validTransition(currentStatus, job.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, job.Status)
		}
		if currentStep != nil && step != nil && models.Step(*step).Order() < models.Step(*currentStep).Order() {
			return fmt.Errorf("%w: step %s -> %s", ErrInvalidTransition, *currentStep, *step)
		}

		job.UpdatedAt = time.Now().UTC()
		_, err = tx.Exec(ctx,
			`UPDATE jobs SET status = $2, step = $3, payload = $4, error_message = $5, updated_at = $6
			 WHERE id = $1`,
			job.ID, job.Status, step, payload, job.ErrorMessage, job.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListActiveJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ('pending', 'executing') AND halted_at IS NULL
		 ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// HaltJob excludes a job from further ticks until an operator intervenes.
func (s *PostgresStore) HaltJob(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET halted_at = NOW(), error_message = $2, updated_at = NOW()
		 WHERE id = $1 AND halted_at IS NULL`, id, reason)
	if err != nil {
		return fmt.Errorf("halt job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
