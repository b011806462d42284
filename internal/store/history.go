package store

import (
	"context"
	"fmt"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReinforcementHistoryStore struct {
	db *pgxpool.Pool
}

func NewReinforcementHistoryStore(db *pgxpool.Pool) *ReinforcementHistoryStore {
	return &ReinforcementHistoryStore{db: db}
}

func (s *ReinforcementHistoryStore) Record(ctx context.Context, entry *domain.ReinforcementHistoryEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO reinforcement_history (memory_id, occurred_at, reinforcement_type, boost, strength_before, strength_after)
		 VALUES ($1, COALESCE($2, NOW()), $3, $4, $5, $6)`,
		entry.MemoryID, nullableTime(entry.Timestamp), entry.Type, entry.Boost, entry.StrengthBefore, entry.StrengthAfter)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *ReinforcementHistoryStore) ListByMemory(ctx context.Context, memoryID uuid.UUID, limit int) ([]domain.ReinforcementHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT memory_id, occurred_at, reinforcement_type, boost, strength_before, strength_after
		 FROM reinforcement_history
		 WHERE memory_id = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		memoryID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.ReinforcementHistoryEntry
	for rows.Next() {
		var e domain.ReinforcementHistoryEntry
		if err := rows.Scan(&e.MemoryID, &e.Timestamp, &e.Type, &e.Boost, &e.StrengthBefore, &e.StrengthAfter); err != nil {
			return nil, fmt.Errorf("scan reinforcement entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
