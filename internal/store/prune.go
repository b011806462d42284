package store

import (
	"context"
	"fmt"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PruneStore owns the multi-table prune transaction. Referencing rows in
// memory_links, memory_embeddings, memory_metadata, and
// memory_tag_associations are removed via cascading deletes; the stats are
// collected inside the same transaction so preview and actual always agree.
type PruneStore struct {
	db *pgxpool.Pool
}

func NewPruneStore(db *pgxpool.Pool) *PruneStore {
	return &PruneStore{db: db}
}

func pruneStats(ctx context.Context, q queryRower, userID string, ids []uuid.UUID) (*domain.PruneStats, error) {
	stats := &domain.PruneStats{}
	var contentBytes, embeddingBytes int64
	err := q.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM memories WHERE user_id = $1 AND id = ANY($2)),
			(SELECT COALESCE(SUM(OCTET_LENGTH(content)), 0) FROM memories WHERE user_id = $1 AND id = ANY($2)),
			(SELECT COALESCE(SUM(e.dimension), 0) * 4
			 FROM memory_embeddings e
			 JOIN memories m ON m.id = e.memory_id
			 WHERE m.user_id = $1 AND m.id = ANY($2)),
			(SELECT COUNT(*) FROM memory_links WHERE source_id = ANY($2) OR target_id = ANY($2))`,
		userID, ids,
	).Scan(&stats.DeletedCount, &contentBytes, &embeddingBytes, &stats.OrphanedLinksRemoved)
	if err != nil {
		return nil, classify(err)
	}
	stats.FreedBytes = contentBytes + embeddingBytes
	return stats, nil
}

// CollectPruneStats computes what a prune over the ids would remove, without
// mutating anything.
func (s *PruneStore) CollectPruneStats(ctx context.Context, userID string, ids []uuid.UUID) (*domain.PruneStats, error) {
	return pruneStats(ctx, s.db, userID, ids)
}

// PruneMemories deletes the memories and every referencing row in a single
// transaction, returning the stats measured inside that transaction.
func (s *PruneStore) PruneMemories(ctx context.Context, userID string, ids []uuid.UUID) (*domain.PruneStats, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stats, err := pruneStats(ctx, tx, userID, ids)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM memory_links WHERE source_id = ANY($1) OR target_id = ANY($1)`, ids); err != nil {
		return nil, fmt.Errorf("delete links: %w", classify(err))
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM memories WHERE user_id = $1 AND id = ANY($2)`, userID, ids); err != nil {
		return nil, fmt.Errorf("delete memories: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return stats, nil
}
