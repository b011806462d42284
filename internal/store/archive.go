package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// ArchiveStore moves memories between the active and archive tables. Both
// directions run in a single transaction so a memory is never in both tables
// or neither.
type ArchiveStore struct {
	db *pgxpool.Pool
}

func NewArchiveStore(db *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{db: db}
}

func (s *ArchiveStore) ArchiveMemories(ctx context.Context, userID string, ids []uuid.UUID, retainEmbeddings bool) (*domain.ArchiveResult, error) {
	return s.archiveWhere(ctx, userID,
		`m.user_id = $1 AND m.id = ANY($2)`, []any{userID, ids}, retainEmbeddings)
}

func (s *ArchiveStore) ArchiveOlderThan(ctx context.Context, userID string, cutoff time.Time, retainEmbeddings bool) (*domain.ArchiveResult, error) {
	return s.archiveWhere(ctx, userID,
		`m.user_id = $1 AND m.created_at < $2`, []any{userID, cutoff}, retainEmbeddings)
}

func (s *ArchiveStore) archiveWhere(ctx context.Context, userID, where string, args []any, retainEmbeddings bool) (*domain.ArchiveResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result := &domain.ArchiveResult{}
	err = tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT
			COUNT(*),
			COALESCE(SUM(OCTET_LENGTH(m.content)), 0) +
			COALESCE((SELECT SUM(e.dimension) * 4
			          FROM memory_embeddings e
			          JOIN memories mm ON mm.id = e.memory_id
			          WHERE %s), 0)
		 FROM memories m WHERE %s`,
		replaceAlias(where, "mm"), where), args...,
	).Scan(&result.ArchivedCount, &result.FreedBytes)
	if err != nil {
		return nil, classify(err)
	}
	if result.ArchivedCount == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, classify(err)
		}
		result.Timestamp = time.Now()
		return result, nil
	}

	embeddingSelect := `NULL, 0`
	if retainEmbeddings {
		embeddingSelect = `e.embedding, COALESCE(e.dimension, 0)`
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO archived_memories
			(id, user_id, session_id, content, primary_sector, salience, strength, decay_rate, access_count, created_at, last_accessed_at, embedding, embedding_dimension)
		 SELECT m.id, m.user_id, m.session_id, m.content, m.primary_sector, m.salience, m.strength, m.decay_rate, m.access_count, m.created_at, m.last_accessed_at, %s
		 FROM memories m
		 LEFT JOIN memory_embeddings e ON e.memory_id = m.id AND e.sector = 'semantic'
		 WHERE %s`,
		embeddingSelect, where), args...); err != nil {
		return nil, fmt.Errorf("copy to archive: %w", classify(err))
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`DELETE FROM memories m WHERE %s`, where), args...); err != nil {
		return nil, fmt.Errorf("remove archived originals: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	result.Timestamp = time.Now()
	return result, nil
}

// replaceAlias rewrites the where clause for the inner embedding-byte
// subquery, which joins memories under a different alias.
func replaceAlias(where, alias string) string {
	return strings.ReplaceAll(where, "m.", alias+".")
}

func (s *ArchiveStore) SearchArchive(ctx context.Context, userID, query string) ([]domain.ArchivedMemory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, session_id, content, primary_sector, salience, strength, access_count, archived_at, created_at
		 FROM archived_memories
		 WHERE user_id = $1 AND content ILIKE '%' || $2 || '%'
		 ORDER BY archived_at DESC`,
		userID, query)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.ArchivedMemory
	for rows.Next() {
		var am domain.ArchivedMemory
		if err := rows.Scan(
			&am.ID, &am.UserID, &am.SessionID, &am.Content, &am.PrimarySector,
			&am.Salience, &am.Strength, &am.AccessCount, &am.ArchivedAt, &am.OriginalCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan archived memory: %w", err)
		}
		out = append(out, am)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Restore moves one memory back to the active table, re-materializing its
// embedding when one was retained.
func (s *ArchiveStore) Restore(ctx context.Context, userID string, id uuid.UUID) (*domain.Memory, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m := &domain.Memory{}
	var vec *pgvector.Vector
	var dimension int
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, session_id, content, primary_sector, salience, strength, decay_rate, access_count, created_at, last_accessed_at, embedding, embedding_dimension
		 FROM archived_memories WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&m.ID, &m.UserID, &m.SessionID, &m.Content, &m.PrimarySector,
		&m.Salience, &m.Strength, &m.DecayRate, &m.AccessCount,
		&m.CreatedAt, &m.LastAccessedAt, &vec, &dimension)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}

	m.EmbeddingStatus = domain.EmbeddingPending
	if vec != nil && dimension > 0 {
		m.EmbeddingStatus = domain.EmbeddingComplete
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO memories (id, user_id, session_id, content, primary_sector, salience, strength, decay_rate, access_count, created_at, last_accessed_at, embedding_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), $11)`,
		m.ID, m.UserID, m.SessionID, m.Content, m.PrimarySector,
		m.Salience, m.Strength, m.DecayRate, m.AccessCount, m.CreatedAt, m.EmbeddingStatus,
	); err != nil {
		return nil, fmt.Errorf("restore memory: %w", classify(err))
	}

	if vec != nil && dimension > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_embeddings (memory_id, sector, dimension, embedding)
			 VALUES ($1, 'semantic', $2, $3)`,
			m.ID, dimension, *vec,
		); err != nil {
			return nil, fmt.Errorf("restore embedding: %w", classify(err))
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM archived_memories WHERE id = $1 AND user_id = $2`, id, userID,
	); err != nil {
		return nil, fmt.Errorf("remove archive row: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return m, nil
}

func (s *ArchiveStore) Usage(ctx context.Context, userID string) (*domain.ArchiveUsage, error) {
	usage := &domain.ArchiveUsage{}
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(OCTET_LENGTH(content) + embedding_dimension * 4), 0)
		 FROM archived_memories WHERE user_id = $1`,
		userID,
	).Scan(&usage.Count, &usage.BytesUsed)
	if err != nil {
		return nil, classify(err)
	}
	return usage, nil
}
