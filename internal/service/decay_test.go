package service

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type mockHistoryStore struct {
	entries []domain.ReinforcementHistoryEntry
}

func (m *mockHistoryStore) Record(ctx context.Context, entry *domain.ReinforcementHistoryEntry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockHistoryStore) ListByMemory(ctx context.Context, memoryID uuid.UUID, limit int) ([]domain.ReinforcementHistoryEntry, error) {
	return m.entries, nil
}

func testMemory(userID string, sector domain.Sector, strength float64, lastAccess time.Time) *domain.Memory {
	return &domain.Memory{
		ID:             uuid.New(),
		UserID:         userID,
		Content:        "test memory",
		PrimarySector:  sector,
		Strength:       strength,
		CreatedAt:      lastAccess,
		LastAccessedAt: lastAccess,
	}
}

func TestDecayedStrength_EpisodicTwoDays(t *testing.T) {
	svc := NewDecayService(newMockMemoryStore(), nil, NewSectorConfig(), nil, zap.NewNop())

	now := time.Now()
	m := testMemory("u1", domain.SectorEpisodic, 1.0, now.Add(-48*time.Hour))

	// lambda = 0.02 * 1.5 = 0.03, age = 2 days
	want := math.Exp(-0.03 * 2)
	got := svc.DecayedStrength(m, now)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("DecayedStrength = %v, want %v", got, want)
	}
}

func TestDecayedStrength_SectorRates(t *testing.T) {
	svc := NewDecayService(newMockMemoryStore(), nil, NewSectorConfig(), nil, zap.NewNop())
	now := time.Now()
	lastAccess := now.Add(-10 * 24 * time.Hour)

	episodic := svc.DecayedStrength(testMemory("u1", domain.SectorEpisodic, 1.0, lastAccess), now)
	semantic := svc.DecayedStrength(testMemory("u1", domain.SectorSemantic, 1.0, lastAccess), now)
	procedural := svc.DecayedStrength(testMemory("u1", domain.SectorProcedural, 1.0, lastAccess), now)

	if !(episodic < semantic && semantic < procedural) {
		t.Errorf("expected episodic < semantic < procedural, got %v %v %v", episodic, semantic, procedural)
	}
}

func TestDecayedStrength_FutureAccessClamps(t *testing.T) {
	svc := NewDecayService(newMockMemoryStore(), nil, NewSectorConfig(), nil, zap.NewNop())

	now := time.Now()
	m := testMemory("u1", domain.SectorEpisodic, 0.7, now.Add(time.Hour))

	if got := svc.DecayedStrength(m, now); got != 0.7 {
		t.Errorf("DecayedStrength = %v, want unchanged 0.7", got)
	}
}

func TestDecayedStrength_Floor(t *testing.T) {
	svc := NewDecayService(newMockMemoryStore(), nil, NewSectorConfig(), nil, zap.NewNop())

	now := time.Now()
	m := testMemory("u1", domain.SectorEpisodic, 0.05, now.Add(-365*24*time.Hour))

	if got := svc.DecayedStrength(m, now); got != DefaultMinimumStrength {
		t.Errorf("DecayedStrength = %v, want floor %v", got, DefaultMinimumStrength)
	}
}

func TestDecayedStrength_PerMemoryOverride(t *testing.T) {
	svc := NewDecayService(newMockMemoryStore(), nil, NewSectorConfig(), nil, zap.NewNop())

	now := time.Now()
	m := testMemory("u1", domain.SectorEpisodic, 1.0, now.Add(-24*time.Hour))
	m.DecayRate = 0.5

	want := math.Exp(-0.5)
	got := svc.DecayedStrength(m, now)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("DecayedStrength = %v, want %v (override lambda)", got, want)
	}
}

func TestApplyDecay_Persists(t *testing.T) {
	ms := newMockMemoryStore()
	svc := NewDecayService(ms, nil, NewSectorConfig(), nil, zap.NewNop())

	m := testMemory("u1", domain.SectorEpisodic, 1.0, time.Now().Add(-48*time.Hour))
	ms.put(m)

	status, err := svc.ApplyDecay(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("ApplyDecay: %v", err)
	}
	if status.NewStrength >= status.OldStrength {
		t.Errorf("expected decay, old=%v new=%v", status.OldStrength, status.NewStrength)
	}

	stored, _ := ms.Get(context.Background(), m.ID)
	if stored.Strength != status.NewStrength {
		t.Errorf("stored strength = %v, want %v", stored.Strength, status.NewStrength)
	}
}

func TestBatchApplyDecay_CollectsPerIDErrors(t *testing.T) {
	ms := newMockMemoryStore()
	svc := NewDecayService(ms, nil, NewSectorConfig(), nil, zap.NewNop())

	m := testMemory("u1", domain.SectorEpisodic, 1.0, time.Now().Add(-24*time.Hour))
	ms.put(m)
	missing := uuid.New()

	statuses, err := svc.BatchApplyDecay(context.Background(), []uuid.UUID{m.ID, missing})
	if err != nil {
		t.Fatalf("BatchApplyDecay: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	if statuses[0].Err != "" {
		t.Errorf("unexpected error for existing id: %s", statuses[0].Err)
	}
	if statuses[1].Err == "" {
		t.Error("expected error for missing id")
	}
}

func TestBatchApplyDecay_WriteFailureRollsBack(t *testing.T) {
	ms := newMockMemoryStore()
	ms.batchErr = fmt.Errorf("connection lost")
	svc := NewDecayService(ms, nil, NewSectorConfig(), nil, zap.NewNop())

	m := testMemory("u1", domain.SectorEpisodic, 1.0, time.Now().Add(-48*time.Hour))
	ms.put(m)

	if _, err := svc.BatchApplyDecay(context.Background(), []uuid.UUID{m.ID}); err == nil {
		t.Fatal("expected error from batch write failure")
	}

	stored, _ := ms.Get(context.Background(), m.ID)
	if stored.Strength != 1.0 {
		t.Errorf("strength changed despite failed batch: %v", stored.Strength)
	}
}

func TestReinforce_ClipsAtOne(t *testing.T) {
	ms := newMockMemoryStore()
	svc := NewDecayService(ms, nil, NewSectorConfig(), nil, zap.NewNop())

	m := testMemory("u1", domain.SectorEpisodic, 0.9, time.Now())
	ms.put(m)

	after, err := svc.Reinforce(context.Background(), m.ID, 0.5)
	if err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	if after != 1.0 {
		t.Errorf("strength = %v, want clipped to 1", after)
	}
}

func TestReinforce_RejectsNegativeBoost(t *testing.T) {
	ms := newMockMemoryStore()
	svc := NewDecayService(ms, nil, NewSectorConfig(), nil, zap.NewNop())

	m := testMemory("u1", domain.SectorEpisodic, 0.5, time.Now())
	ms.put(m)

	if _, err := svc.Reinforce(context.Background(), m.ID, -0.1); err == nil {
		t.Fatal("expected error for negative boost")
	}
}

func TestReinforceByType_RecordsHistory(t *testing.T) {
	ms := newMockMemoryStore()
	hs := &mockHistoryStore{}
	svc := NewDecayService(ms, hs, NewSectorConfig(), nil, zap.NewNop())

	m := testMemory("u1", domain.SectorEpisodic, 0.5, time.Now())
	ms.put(m)

	after, err := svc.ReinforceByType(context.Background(), m.ID, domain.ReinforceImportance, nil)
	if err != nil {
		t.Fatalf("ReinforceByType: %v", err)
	}
	if math.Abs(after-0.8) > 1e-9 {
		t.Errorf("strength = %v, want 0.8 (importance boost)", after)
	}
	if len(hs.entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(hs.entries))
	}
	if hs.entries[0].Type != domain.ReinforceImportance {
		t.Errorf("history type = %s", hs.entries[0].Type)
	}
}

func TestReinforceByType_ExplicitRequiresBoost(t *testing.T) {
	ms := newMockMemoryStore()
	svc := NewDecayService(ms, nil, NewSectorConfig(), nil, zap.NewNop())

	m := testMemory("u1", domain.SectorEpisodic, 0.5, time.Now())
	ms.put(m)

	if _, err := svc.ReinforceByType(context.Background(), m.ID, domain.ReinforceExplicit, nil); err == nil {
		t.Fatal("expected error when explicit boost is missing")
	}
}

func TestRunMaintenance_SkipsConsolidated(t *testing.T) {
	ms := newMockMemoryStore()
	svc := NewDecayService(ms, nil, NewSectorConfig(), nil, zap.NewNop())

	old := time.Now().Add(-72 * time.Hour)
	active := testMemory("u1", domain.SectorEpisodic, 0.9, old)
	ms.put(active)

	summaryID := uuid.New()
	folded := testMemory("u1", domain.SectorEpisodic, 0.4, old)
	folded.ConsolidatedInto = &summaryID
	ms.put(folded)

	result, err := svc.RunMaintenance(context.Background(), "u1", MaintenanceOptions{})
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("processed = %d, want 1 (consolidated skipped)", result.Processed)
	}

	stored, _ := ms.Get(context.Background(), folded.ID)
	if stored.Strength != 0.4 {
		t.Errorf("consolidated memory strength changed: %v", stored.Strength)
	}
}
