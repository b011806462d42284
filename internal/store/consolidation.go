package store

import (
	"context"
	"fmt"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// ConsolidationStore commits the consolidation of a cluster: the summary
// memory, bidirectional links to every source, the multiplicative strength
// reduction, the consolidated_into markers, and one history row, all in a
// single transaction.
type ConsolidationStore struct {
	db *pgxpool.Pool
}

func NewConsolidationStore(db *pgxpool.Pool) *ConsolidationStore {
	return &ConsolidationStore{db: db}
}

func (s *ConsolidationStore) CommitConsolidation(ctx context.Context, c *domain.ConsolidationCommit) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	summary := c.Summary
	if err := tx.QueryRow(ctx,
		`INSERT INTO memories (id, user_id, session_id, content, primary_sector, salience, strength, decay_rate, access_count, embedding_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
		 RETURNING created_at, last_accessed_at`,
		summary.ID, summary.UserID, summary.SessionID, summary.Content, summary.PrimarySector,
		summary.Salience, summary.Strength, summary.DecayRate, summary.EmbeddingStatus,
	).Scan(&summary.CreatedAt, &summary.LastAccessedAt); err != nil {
		return fmt.Errorf("insert summary: %w", classify(err))
	}

	if len(c.SummaryEmbedding) > 0 {
		vec := pgvector.NewVector(c.SummaryEmbedding)
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_embeddings (memory_id, sector, dimension, embedding)
			 VALUES ($1, 'semantic', $2, $3)`,
			summary.ID, len(c.SummaryEmbedding), vec,
		); err != nil {
			return fmt.Errorf("insert summary embedding: %w", classify(err))
		}
	}

	for _, sourceID := range c.SourceIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_links (source_id, target_id, kind, weight) VALUES ($1, $2, $3, 1), ($2, $1, $3, 1)`,
			sourceID, summary.ID, domain.LinkConsolidation,
		); err != nil {
			return fmt.Errorf("insert consolidation links: %w", classify(err))
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE memories
		 SET strength = strength * $2, consolidated_into = $3
		 WHERE id = ANY($1)`,
		c.SourceIDs, c.StrengthReductionFactor, summary.ID,
	); err != nil {
		return fmt.Errorf("reduce source strengths: %w", classify(err))
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO consolidation_history (user_id, summary_id, source_ids, topic)
		 VALUES ($1, $2, $3, $4)`,
		summary.UserID, summary.ID, c.SourceIDs, c.Topic,
	); err != nil {
		return fmt.Errorf("record consolidation history: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *ConsolidationStore) ListHistory(ctx context.Context, userID string, limit int) ([]domain.ConsolidationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT summary_id, source_ids, topic, created_at
		 FROM consolidation_history
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.ConsolidationRecord
	for rows.Next() {
		var r domain.ConsolidationRecord
		if err := rows.Scan(&r.SummaryID, &r.SourceIDs, &r.Topic, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan consolidation record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
