package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// UpdateJob persists the status, step, and payload of job. Status may
	// not leave a terminal state and step may not move backwards.
	UpdateJob(ctx context.Context, job *models.Job) error
	// ListActiveJobs returns pending and executing jobs that are not halted,
	// oldest first.
	ListActiveJobs(ctx context.Context, limit int) ([]*models.Job, error)
	HaltJob(ctx context.Context, id uuid.UUID, reason string) error

	// NewSyncBatch starts a batch of registry entries, written on Close.
	NewSyncBatch() SyncBatch
	ListSyncConfigs(ctx context.Context, filter SyncFilter) ([]*models.SyncConfig, error)
}

// SyncBatch collects registry entries for completed, sync-enabled results.
type SyncBatch interface {
	Record(entry models.SyncConfig)
	Close(ctx context.Context) error
}

type SyncFilter struct {
	SyncType models.SyncType
	Dataset  string
	Limit    int
}
