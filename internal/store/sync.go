package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

// pgSyncBatch queues registry upserts and sends them in one round trip on
// Close. A batch may be closed once.
type pgSyncBatch struct {
	pool   pgxBatchSender
	batch  *pgx.Batch
	err    error
	closed bool
}

type pgxBatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (s *PostgresStore) NewSyncBatch() SyncBatch {
	return &pgSyncBatch{pool: s.pool, batch: &pgx.Batch{}}
}

// Record queues entry. Re-recording the same result refreshes its metadata.
func (b *pgSyncBatch) Record(entry models.SyncConfig) {
	if b.err != nil || b.closed {
		return
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		b.err = fmt.Errorf("encode sync metadata: %w", err)
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	b.batch.Queue(
		`INSERT INTO sync_configs (analysis_version, dataset, dataset_version, analysis, sync, sync_type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (dataset, dataset_version, analysis, sync_type, analysis_version) DO UPDATE SET
		   sync = EXCLUDED.sync,
		   metadata = EXCLUDED.metadata`,
		entry.AnalysisVersion, entry.Dataset, entry.DatasetVersion, entry.Analysis,
		entry.Sync, entry.SyncType, meta, entry.CreatedAt)
}

// Close flushes every recorded entry.
func (b *pgSyncBatch) Close(ctx context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.err != nil {
		return b.err
	}
	if b.batch.Len() == 0 {
		return nil
	}

	results := b.pool.SendBatch(ctx, b.batch)
	for i := 0; i < b.batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("record sync config %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close sync batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSyncConfigs(ctx context.Context, filter SyncFilter) ([]*models.SyncConfig, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx,
		`SELECT analysis_version, dataset, dataset_version, analysis, sync, sync_type, metadata, created_at
		 FROM sync_configs
		 WHERE ($1 = '' OR sync_type = $1) AND ($2 = '' OR dataset = $2)
		 ORDER BY created_at DESC LIMIT $3`,
		string(filter.SyncType), filter.Dataset, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.SyncConfig
	for rows.Next() {
		var (
			c    models.SyncConfig
			meta []byte
		)
		if err := rows.Scan(&c.AnalysisVersion, &c.Dataset, &c.DatasetVersion, &c.Analysis,
			&c.Sync, &c.SyncType, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync config: %w", err)
		}
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode sync metadata: %w", err)
		}
		configs = append(configs, &c)
	}
	return configs, rows.Err()
}
