package store

import (
	"context"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LinkStore struct {
	db *pgxpool.Pool
}

func NewLinkStore(db *pgxpool.Pool) *LinkStore {
	return &LinkStore{db: db}
}

func (s *LinkStore) Create(ctx context.Context, link *domain.MemoryLink) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO memory_links (source_id, target_id, kind, weight)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		link.SourceID, link.TargetID, link.Kind, link.Weight,
	).Scan(&link.CreatedAt)
	if err != nil {
		return classify(err)
	}
	return nil
}

// CountTouching counts links that reference any of the given memories at
// either endpoint.
func (s *LinkStore) CountTouching(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM memory_links WHERE source_id = ANY($1) OR target_id = ANY($1)`,
		ids,
	).Scan(&count)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}
