package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const hoursPerDay = 24.0

// DecayStatus is the per-id outcome of a batch decay pass.
type DecayStatus struct {
	ID          uuid.UUID `json:"id"`
	OldStrength float64   `json:"old_strength"`
	NewStrength float64   `json:"new_strength"`
	Err         string    `json:"error,omitempty"`
}

type MaintenanceOptions struct {
	Prune bool `json:"prune"`
}

type MaintenanceResult struct {
	Processed      int           `json:"processed"`
	Pruned         int           `json:"pruned"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
	Errors         []string      `json:"errors"`
}

// DecayService applies temporal decay and reinforcement to memories and
// coordinates the per-user maintenance sweep.
type DecayService struct {
	memoryStore  domain.MemoryStore
	historyStore domain.ReinforcementHistoryStore
	sectorConfig *SectorConfig
	pruning      *PruningService
	logger       *zap.Logger

	now func() time.Time
}

func NewDecayService(ms domain.MemoryStore, hs domain.ReinforcementHistoryStore, cfg *SectorConfig, pruning *PruningService, logger *zap.Logger) *DecayService {
	return &DecayService{
		memoryStore:  ms,
		historyStore: hs,
		sectorConfig: cfg,
		pruning:      pruning,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (s *DecayService) SetClock(now func() time.Time) {
	s.now = now
}

// DecayedStrength computes the memory's strength at the given instant.
// Pure: never touches the store and never fails. Accesses recorded in the
// future clamp to the original strength.
func (s *DecayService) DecayedStrength(m *domain.Memory, now time.Time) float64 {
	if now.Before(m.LastAccessedAt) {
		return m.Strength
	}

	cfg := s.sectorConfig.Get()
	lambda := m.DecayRate
	if lambda == 0 {
		rate, err := s.sectorConfig.EffectiveDecayRate(m.PrimarySector)
		if err != nil {
			rate = cfg.BaseLambda
		}
		lambda = rate
	}

	ageDays := now.Sub(m.LastAccessedAt).Hours() / hoursPerDay
	decayed := m.Strength * math.Exp(-lambda*ageDays)
	if decayed < cfg.MinimumStrength {
		decayed = cfg.MinimumStrength
	}
	return decayed
}

// ApplyDecay recomputes and persists the strength for one memory.
// Idempotent within a single wall-clock tick.
func (s *DecayService) ApplyDecay(ctx context.Context, id uuid.UUID) (*DecayStatus, error) {
	m, err := s.memoryStore.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load memory for decay: %w", err)
	}

	status := &DecayStatus{ID: id, OldStrength: m.Strength}
	status.NewStrength = s.DecayedStrength(m, s.now())

	if status.NewStrength != m.Strength {
		if err := s.memoryStore.UpdateStrength(ctx, id, status.NewStrength); err != nil {
			return nil, fmt.Errorf("persist decayed strength: %w", err)
		}
	}
	return status, nil
}

// BatchApplyDecay recomputes strengths for the given ids and writes them in a
// single transaction. Load failures are reported per-id; a write failure
// rolls the whole batch back and no strengths change.
func (s *DecayService) BatchApplyDecay(ctx context.Context, ids []uuid.UUID) ([]DecayStatus, error) {
	statuses := make([]DecayStatus, 0, len(ids))
	updates := make([]domain.StrengthUpdate, 0, len(ids))
	now := s.now()

	for _, id := range ids {
		m, err := s.memoryStore.Get(ctx, id)
		if err != nil {
			statuses = append(statuses, DecayStatus{ID: id, Err: err.Error()})
			continue
		}
		st := DecayStatus{ID: id, OldStrength: m.Strength, NewStrength: s.DecayedStrength(m, now)}
		statuses = append(statuses, st)
		if st.NewStrength != st.OldStrength {
			updates = append(updates, domain.StrengthUpdate{ID: id, Strength: st.NewStrength})
		}
	}

	if len(updates) > 0 {
		if err := s.memoryStore.BatchUpdateStrength(ctx, updates); err != nil {
			return nil, fmt.Errorf("batch strength update: %w", err)
		}
	}
	return statuses, nil
}

// Reinforce applies an explicit additive boost, clipped at 1, and records a
// history entry.
func (s *DecayService) Reinforce(ctx context.Context, id uuid.UUID, boost float64) (float64, error) {
	return s.reinforce(ctx, id, domain.ReinforceExplicit, boost, false)
}

// AutoReinforceOnAccess applies the configured access boost and increments
// the access count. Used only when strength < 1.
func (s *DecayService) AutoReinforceOnAccess(ctx context.Context, id uuid.UUID) (float64, error) {
	cfg := s.sectorConfig.Get()
	return s.reinforce(ctx, id, domain.ReinforceAccess, cfg.AccessBoost, true)
}

// ReinforceByType dispatches on the reinforcement type. Access and importance
// use configured boosts; explicit requires a caller-supplied boost.
func (s *DecayService) ReinforceByType(ctx context.Context, id uuid.UUID, typ domain.ReinforcementType, boost *float64) (float64, error) {
	cfg := s.sectorConfig.Get()
	switch typ {
	case domain.ReinforceAccess:
		return s.reinforce(ctx, id, typ, cfg.AccessBoost, true)
	case domain.ReinforceImportance:
		return s.reinforce(ctx, id, typ, cfg.ImportanceBoost, false)
	case domain.ReinforceExplicit:
		if boost == nil {
			return 0, fmt.Errorf("%w: explicit reinforcement requires a boost", ErrInvalidArgument)
		}
		return s.reinforce(ctx, id, typ, *boost, false)
	default:
		return 0, fmt.Errorf("%w: unknown reinforcement type %q", ErrInvalidArgument, typ)
	}
}

func (s *DecayService) reinforce(ctx context.Context, id uuid.UUID, typ domain.ReinforcementType, boost float64, incrementAccess bool) (float64, error) {
	if boost < 0 {
		return 0, fmt.Errorf("%w: boost must be >= 0", ErrInvalidArgument)
	}

	m, err := s.memoryStore.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	before := m.Strength
	after := before + boost
	if after > 1 {
		after = 1
	}

	if err := s.memoryStore.Reinforce(ctx, id, after, incrementAccess); err != nil {
		return 0, fmt.Errorf("persist reinforcement: %w", err)
	}

	if s.historyStore != nil {
		entry := &domain.ReinforcementHistoryEntry{
			MemoryID:       id,
			Timestamp:      s.now(),
			Type:           typ,
			Boost:          boost,
			StrengthBefore: before,
			StrengthAfter:  after,
		}
		if err := s.historyStore.Record(ctx, entry); err != nil {
			s.logger.Warn("failed to record reinforcement history",
				zap.String("memory_id", id.String()), zap.Error(err))
		}
	}
	return after, nil
}

// RunMaintenance decays every memory for the user, optionally prunes
// candidates, and reports a summary. Per-memory errors are collected, not
// fatal; only infrastructure failures abort the run.
func (s *DecayService) RunMaintenance(ctx context.Context, userID string, opts MaintenanceOptions) (*MaintenanceResult, error) {
	start := s.now()
	result := &MaintenanceResult{Errors: []string{}}

	memories, err := s.memoryStore.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memories for maintenance: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(memories))
	for _, m := range memories {
		if m.Consolidated() {
			continue
		}
		ids = append(ids, m.ID)
	}

	statuses, err := s.BatchApplyDecay(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, st := range statuses {
		if st.Err != "" {
			result.Errors = append(result.Errors, st.Err)
			continue
		}
		result.Processed++
	}

	if opts.Prune && s.pruning != nil {
		cfg := s.sectorConfig.Get()
		criteria := domain.DefaultPruneCriteria()
		criteria.MinStrength = cfg.PruningThreshold
		stats, err := s.pruning.PruneAllCandidates(ctx, userID, criteria)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.Pruned = stats.DeletedCount
		}
	}

	result.ProcessingTime = s.now().Sub(start)
	s.logger.Info("maintenance run complete",
		zap.String("user_id", userID),
		zap.Int("processed", result.Processed),
		zap.Int("pruned", result.Pruned),
		zap.Duration("took", result.ProcessingTime),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}
