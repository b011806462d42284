package store

import (
	"context"
	"errors"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

type EmbeddingStore struct {
	db *pgxpool.Pool
}

func NewEmbeddingStore(db *pgxpool.Pool) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

func (s *EmbeddingStore) Upsert(ctx context.Context, e *domain.Embedding) error {
	if e.Sector == "" {
		e.Sector = domain.SectorSemantic
	}
	vec := pgvector.NewVector(e.Vector)
	_, err := s.db.Exec(ctx,
		`INSERT INTO memory_embeddings (memory_id, sector, dimension, embedding)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (memory_id, sector) DO UPDATE
		 SET dimension = EXCLUDED.dimension, embedding = EXCLUDED.embedding`,
		e.MemoryID, e.Sector, e.Dimension, vec)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *EmbeddingStore) GetSemantic(ctx context.Context, memoryID uuid.UUID) (*domain.Embedding, error) {
	e := &domain.Embedding{MemoryID: memoryID, Sector: domain.SectorSemantic}
	var vec pgvector.Vector
	err := s.db.QueryRow(ctx,
		`SELECT dimension, embedding FROM memory_embeddings WHERE memory_id = $1 AND sector = $2`,
		memoryID, domain.SectorSemantic,
	).Scan(&e.Dimension, &vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	e.Vector = vec.Slice()
	return e, nil
}
