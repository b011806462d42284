package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PruningService identifies low-value memories and removes them with full
// referential cleanup (links, embeddings, metadata, tag associations).
type PruningService struct {
	memoryStore domain.MemoryStore
	pruneStore  domain.PruneStore
	logger      *zap.Logger

	now func() time.Time
}

func NewPruningService(ms domain.MemoryStore, ps domain.PruneStore, logger *zap.Logger) *PruningService {
	return &PruningService{
		memoryStore: ms,
		pruneStore:  ps,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *PruningService) SetClock(now func() time.Time) {
	s.now = now
}

func validatePruneCriteria(c domain.PruneCriteria) error {
	if c.MinStrength < 0 || c.MinStrength > 1 {
		return fmt.Errorf("%w: min strength must be in [0,1]", ErrInvalidArgument)
	}
	if c.MaxAgeDays < 0 {
		return fmt.Errorf("%w: max age days must be >= 0", ErrInvalidArgument)
	}
	if c.MinAccessCount < 0 {
		return fmt.Errorf("%w: min access count must be >= 0", ErrInvalidArgument)
	}
	return nil
}

func pruneReasonRank(r domain.PruneReason) int {
	switch r {
	case domain.PruneLowStrength:
		return 0
	case domain.PruneOldAge:
		return 1
	default:
		return 2
	}
}

// ListCandidates returns memories eligible for pruning, each tagged with its
// single primary reason. Precedence: low_strength > old_age > low_access.
// Ordered by reason group, then ascending strength, then ascending creation
// time.
func (s *PruningService) ListCandidates(ctx context.Context, userID string, criteria domain.PruneCriteria) ([]domain.PruneCandidate, error) {
	if err := validatePruneCriteria(criteria); err != nil {
		return nil, err
	}

	memories, err := s.memoryStore.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memories for pruning: %w", err)
	}

	now := s.now()
	var candidates []domain.PruneCandidate
	for _, m := range memories {
		ageDays := now.Sub(m.CreatedAt).Hours() / hoursPerDay
		switch {
		case m.Strength < criteria.MinStrength:
			candidates = append(candidates, domain.PruneCandidate{Memory: m, Reason: domain.PruneLowStrength})
		case criteria.MaxAgeDays > 0 && ageDays > criteria.MaxAgeDays:
			candidates = append(candidates, domain.PruneCandidate{Memory: m, Reason: domain.PruneOldAge})
		case m.AccessCount <= criteria.MinAccessCount:
			candidates = append(candidates, domain.PruneCandidate{Memory: m, Reason: domain.PruneLowAccess})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := pruneReasonRank(candidates[i].Reason), pruneReasonRank(candidates[j].Reason)
		if ri != rj {
			return ri < rj
		}
		if candidates[i].Memory.Strength != candidates[j].Memory.Strength {
			return candidates[i].Memory.Strength < candidates[j].Memory.Strength
		}
		return candidates[i].Memory.CreatedAt.Before(candidates[j].Memory.CreatedAt)
	})
	return candidates, nil
}

// PreviewPruning computes what a Prune over the same ids would delete,
// without mutating anything. Empty ids yields zeroes.
func (s *PruningService) PreviewPruning(ctx context.Context, userID string, ids []uuid.UUID) (*domain.PruneStats, error) {
	if len(ids) == 0 {
		return &domain.PruneStats{}, nil
	}

	stats, err := s.pruneStore.CollectPruneStats(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("preview pruning: %w", err)
	}
	return stats, nil
}

// Prune deletes the memories and every row referencing them in one
// transaction. Empty ids short-circuits without opening a transaction.
func (s *PruningService) Prune(ctx context.Context, userID string, ids []uuid.UUID) (*domain.PruneStats, error) {
	if len(ids) == 0 {
		return &domain.PruneStats{}, nil
	}

	stats, err := s.pruneStore.PruneMemories(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("prune memories: %w", err)
	}

	s.logger.Info("pruned memories",
		zap.String("user_id", userID),
		zap.Int("deleted", stats.DeletedCount),
		zap.Int64("freed_bytes", stats.FreedBytes),
		zap.Int("links_removed", stats.OrphanedLinksRemoved))
	return stats, nil
}

// PruneAllCandidates lists candidates under the criteria and prunes them.
// An empty candidate list is a no-op.
func (s *PruningService) PruneAllCandidates(ctx context.Context, userID string, criteria domain.PruneCriteria) (*domain.PruneStats, error) {
	candidates, err := s.ListCandidates(ctx, userID, criteria)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Memory.ID)
	}
	return s.Prune(ctx, userID, ids)
}
