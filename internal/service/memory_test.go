package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type mockMemoryStore struct {
	mu       sync.Mutex
	memories map[uuid.UUID]*domain.Memory

	batchErr    error
	listErr     error
	episodic    []domain.Memory
	episodicOK  bool
	episodicErr error
	tolerantErr error
}

func newMockMemoryStore() *mockMemoryStore {
	return &mockMemoryStore{memories: make(map[uuid.UUID]*domain.Memory)}
}

func (m *mockMemoryStore) put(mem *domain.Memory) *domain.Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *mem
	m.memories[mem.ID] = &copied
	return &copied
}

func (m *mockMemoryStore) Create(ctx context.Context, mem *domain.Memory) error {
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	m.put(mem)
	return nil
}

func (m *mockMemoryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.memories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *mem
	return &copied, nil
}

func (m *mockMemoryStore) GetByUser(ctx context.Context, userID string, id uuid.UUID) (*domain.Memory, error) {
	mem, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if mem.UserID != userID {
		return nil, store.ErrNotFound
	}
	return mem, nil
}

func (m *mockMemoryStore) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.memories[id]
	if !ok || mem.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.memories, id)
	return nil
}

func (m *mockMemoryStore) ListByUser(ctx context.Context, userID string) ([]domain.Memory, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Memory
	for _, mem := range m.memories {
		if mem.UserID == userID {
			out = append(out, *mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockMemoryStore) ListEpisodicUnconsolidated(ctx context.Context, userID string, limit int) ([]domain.Memory, error) {
	if m.episodicErr != nil {
		return nil, m.episodicErr
	}
	if m.episodicOK {
		return m.episodic, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Memory
	for _, mem := range m.memories {
		if mem.UserID != userID || mem.PrimarySector != domain.SectorEpisodic {
			continue
		}
		if mem.Consolidated() || mem.EmbeddingStatus != domain.EmbeddingComplete {
			continue
		}
		out = append(out, *mem)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockMemoryStore) ListEpisodicTolerant(ctx context.Context, userID string, limit int) ([]domain.Memory, error) {
	if m.tolerantErr != nil {
		return nil, m.tolerantErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Memory
	for _, mem := range m.memories {
		if mem.UserID != userID || mem.PrimarySector != domain.SectorEpisodic {
			continue
		}
		out = append(out, *mem)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockMemoryStore) CountEpisodicUnconsolidated(ctx context.Context, userID string) (int, error) {
	out, _ := m.ListEpisodicUnconsolidated(ctx, userID, 1<<30)
	return len(out), nil
}

func (m *mockMemoryStore) Recall(ctx context.Context, userID string, embedding []float32, topK int) ([]domain.MemoryWithScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MemoryWithScore
	for _, mem := range m.memories {
		if mem.UserID != userID || mem.Consolidated() {
			continue
		}
		out = append(out, domain.MemoryWithScore{Memory: *mem, Score: 0.9})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (m *mockMemoryStore) UpdateStrength(ctx context.Context, id uuid.UUID, strength float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.memories[id]
	if !ok {
		return store.ErrNotFound
	}
	mem.Strength = strength
	return nil
}

func (m *mockMemoryStore) BatchUpdateStrength(ctx context.Context, updates []domain.StrengthUpdate) error {
	if m.batchErr != nil {
		return m.batchErr
	}
	for _, u := range updates {
		if err := m.UpdateStrength(ctx, u.ID, u.Strength); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockMemoryStore) Reinforce(ctx context.Context, id uuid.UUID, strength float64, incrementAccess bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.memories[id]
	if !ok {
		return store.ErrNotFound
	}
	mem.Strength = strength
	if incrementAccess {
		mem.AccessCount++
	}
	mem.LastAccessedAt = time.Now()
	return nil
}

func (m *mockMemoryStore) ListDistinctUserIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, mem := range m.memories {
		if !seen[mem.UserID] {
			seen[mem.UserID] = true
			out = append(out, mem.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockMemoryStore) CountBySector(ctx context.Context, userID string) (map[domain.Sector]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.Sector]int{}
	for _, mem := range m.memories {
		if mem.UserID == userID {
			out[mem.PrimarySector]++
		}
	}
	return out, nil
}

func (m *mockMemoryStore) CountByAge(ctx context.Context, userID string, now time.Time) (*domain.AgeBuckets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets := &domain.AgeBuckets{}
	for _, mem := range m.memories {
		if mem.UserID != userID {
			continue
		}
		age := now.Sub(mem.CreatedAt)
		switch {
		case age <= 24*time.Hour:
			buckets.Last24h++
		case age <= 7*24*time.Hour:
			buckets.LastWeek++
		case age <= 30*24*time.Hour:
			buckets.LastMonth++
		default:
			buckets.Older++
		}
	}
	return buckets, nil
}

func (m *mockMemoryStore) ForgettingCandidates(ctx context.Context, userID string, now time.Time) (*domain.ForgettingCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := &domain.ForgettingCounts{}
	for _, mem := range m.memories {
		if mem.UserID != userID {
			continue
		}
		hit := false
		if mem.Strength < 0.1 {
			counts.LowStrength++
			hit = true
		}
		if now.Sub(mem.CreatedAt) > 180*24*time.Hour {
			counts.OldAge++
			hit = true
		}
		if mem.AccessCount == 0 {
			counts.LowAccess++
			hit = true
		}
		if hit {
			counts.Total++
		}
	}
	return counts, nil
}

func (m *mockMemoryStore) StorageBytes(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, mem := range m.memories {
		if mem.UserID == userID {
			total += int64(len(mem.Content))
		}
	}
	return total, nil
}

type mockEmbeddingStore struct {
	mu         sync.Mutex
	embeddings map[uuid.UUID]*domain.Embedding
}

func newMockEmbeddingStore() *mockEmbeddingStore {
	return &mockEmbeddingStore{embeddings: make(map[uuid.UUID]*domain.Embedding)}
}

func (m *mockEmbeddingStore) Upsert(ctx context.Context, e *domain.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[e.MemoryID] = e
	return nil
}

func (m *mockEmbeddingStore) GetSemantic(ctx context.Context, memoryID uuid.UUID) (*domain.Embedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.embeddings[memoryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

type mockEmbeddingClient struct {
	vec []float32
	err error
}

func (m *mockEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.vec != nil {
		return m.vec, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type mockArchiveStore struct {
	mu       sync.Mutex
	archived map[uuid.UUID]*domain.ArchivedMemory
	restored *domain.Memory
}

func newMockArchiveStore() *mockArchiveStore {
	return &mockArchiveStore{archived: make(map[uuid.UUID]*domain.ArchivedMemory)}
}

func (m *mockArchiveStore) ArchiveMemories(ctx context.Context, userID string, ids []uuid.UUID, retainEmbeddings bool) (*domain.ArchiveResult, error) {
	return &domain.ArchiveResult{ArchivedCount: len(ids), FreedBytes: int64(len(ids) * 100), Timestamp: time.Now()}, nil
}

func (m *mockArchiveStore) ArchiveOlderThan(ctx context.Context, userID string, cutoff time.Time, retainEmbeddings bool) (*domain.ArchiveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.archived {
		if a.UserID == userID && a.OriginalCreatedAt.Before(cutoff) {
			count++
		}
	}
	return &domain.ArchiveResult{ArchivedCount: count, Timestamp: time.Now()}, nil
}

func (m *mockArchiveStore) SearchArchive(ctx context.Context, userID, query string) ([]domain.ArchivedMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ArchivedMemory
	for _, a := range m.archived {
		if a.UserID == userID && strings.Contains(a.Content, query) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockArchiveStore) Restore(ctx context.Context, userID string, id uuid.UUID) (*domain.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restored != nil && m.restored.ID == id && m.restored.UserID == userID {
		return m.restored, nil
	}
	return nil, ErrNotFoundInArchive
}

func (m *mockArchiveStore) Usage(ctx context.Context, userID string) (*domain.ArchiveUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	usage := &domain.ArchiveUsage{}
	for _, a := range m.archived {
		if a.UserID == userID {
			usage.Count++
			usage.BytesUsed += int64(len(a.Content))
		}
	}
	return usage, nil
}

func newTestMemoryService(ms *mockMemoryStore, as *mockArchiveStore, embed domain.EmbeddingClient) *MemoryService {
	logger := zap.NewNop()
	cfg := NewSectorConfig()
	decay := NewDecayService(ms, nil, cfg, nil, logger)
	var archiveStore domain.ArchiveStore
	if as != nil {
		archiveStore = as
	}
	return NewMemoryService(ms, newMockEmbeddingStore(), archiveStore, embed, decay, logger)
}

func TestMemoryCreate_Validation(t *testing.T) {
	svc := newTestMemoryService(newMockMemoryStore(), nil, &mockEmbeddingClient{})

	tests := []struct {
		name string
		in   CreateMemoryInput
	}{
		{"missing user", CreateMemoryInput{Content: "x"}},
		{"missing content", CreateMemoryInput{UserID: "u1"}},
		{"bad sector", CreateMemoryInput{UserID: "u1", Content: "x", Sector: "imaginary"}},
		{"salience out of range", CreateMemoryInput{UserID: "u1", Content: "x", Salience: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.in); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestMemoryCreate_Defaults(t *testing.T) {
	ms := newMockMemoryStore()
	svc := newTestMemoryService(ms, nil, &mockEmbeddingClient{})

	m, err := svc.Create(context.Background(), CreateMemoryInput{UserID: "u1", Content: "the sky was orange"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.PrimarySector != domain.SectorEpisodic {
		t.Errorf("sector = %s, want episodic", m.PrimarySector)
	}
	if m.Strength != 1 {
		t.Errorf("strength = %v, want 1", m.Strength)
	}
	if m.EmbeddingStatus != domain.EmbeddingComplete {
		t.Errorf("embedding status = %s, want complete", m.EmbeddingStatus)
	}
}

func TestMemoryCreate_EmbeddingFailureKeepsMemory(t *testing.T) {
	ms := newMockMemoryStore()
	svc := newTestMemoryService(ms, nil, &mockEmbeddingClient{err: fmt.Errorf("provider down")})

	m, err := svc.Create(context.Background(), CreateMemoryInput{UserID: "u1", Content: "still stored"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.EmbeddingStatus != domain.EmbeddingFailed {
		t.Errorf("embedding status = %s, want failed", m.EmbeddingStatus)
	}
	if _, err := ms.Get(context.Background(), m.ID); err != nil {
		t.Errorf("memory not persisted: %v", err)
	}
}

func TestMemoryGet_RestoresFromArchive(t *testing.T) {
	ms := newMockMemoryStore()
	as := newMockArchiveStore()
	archivedID := uuid.New()
	as.restored = &domain.Memory{
		ID: archivedID, UserID: "u1", Content: "from cold storage",
		PrimarySector: domain.SectorEpisodic, Strength: 0.4,
		CreatedAt: time.Now().Add(-48 * time.Hour), LastAccessedAt: time.Now().Add(-48 * time.Hour),
	}
	svc := newTestMemoryService(ms, as, &mockEmbeddingClient{})

	m, err := svc.Get(context.Background(), "u1", archivedID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Content != "from cold storage" {
		t.Errorf("content = %q", m.Content)
	}
}

func TestMemoryGet_UnknownID(t *testing.T) {
	svc := newTestMemoryService(newMockMemoryStore(), newMockArchiveStore(), &mockEmbeddingClient{})

	if _, err := svc.Get(context.Background(), "u1", uuid.New()); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestMemoryRecall_TouchesHits(t *testing.T) {
	ms := newMockMemoryStore()
	mem := &domain.Memory{
		ID: uuid.New(), UserID: "u1", Content: "coffee in the rain",
		PrimarySector: domain.SectorEpisodic, Strength: 0.6,
		CreatedAt: time.Now(), LastAccessedAt: time.Now(),
	}
	ms.put(mem)
	svc := newTestMemoryService(ms, nil, &mockEmbeddingClient{})

	hits, err := svc.Recall(context.Background(), "u1", "coffee", 10)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}

	stored, _ := ms.Get(context.Background(), mem.ID)
	if stored.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", stored.AccessCount)
	}
	if stored.Strength <= 0.6 {
		t.Errorf("strength = %v, want boosted above 0.6", stored.Strength)
	}
}

func TestMemoryRecall_EmptyQuery(t *testing.T) {
	svc := newTestMemoryService(newMockMemoryStore(), nil, &mockEmbeddingClient{})
	if _, err := svc.Recall(context.Background(), "u1", "  ", 10); err == nil {
		t.Fatal("expected error for empty query")
	}
}
