package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type mockLLMClient struct {
	response string
	err      error
	prompts  []string
}

func (m *mockLLMClient) Generate(ctx context.Context, prompt, system string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

type mockConsolidationStore struct {
	commits []domain.ConsolidationCommit
	err     error
}

func (m *mockConsolidationStore) CommitConsolidation(ctx context.Context, c *domain.ConsolidationCommit) error {
	if m.err != nil {
		return m.err
	}
	m.commits = append(m.commits, *c)
	return nil
}

func (m *mockConsolidationStore) ListHistory(ctx context.Context, userID string, limit int) ([]domain.ConsolidationRecord, error) {
	return nil, nil
}

// seedCluster creates n episodic memories with near-identical embeddings so
// they land in one cluster.
func seedCluster(ms *mockMemoryStore, es *mockEmbeddingStore, userID string, n int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		m := testMemory(userID, domain.SectorEpisodic, 0.8, time.Now())
		m.Content = fmt.Sprintf("walked the dog in the park, day %d", i)
		m.EmbeddingStatus = domain.EmbeddingComplete
		ms.put(m)
		vec := []float32{1, 0.01 * float32(i), 0}
		_ = es.Upsert(context.Background(), &domain.Embedding{
			MemoryID: m.ID, Sector: domain.SectorSemantic, Dimension: 3, Vector: vec,
		})
		ids = append(ids, m.ID)
	}
	return ids
}

func newTestConsolidationService(ms *mockMemoryStore, es *mockEmbeddingStore, cs *mockConsolidationStore, llm domain.LLMClient) *ConsolidationService {
	return NewConsolidationService(ms, es, cs, &mockEmbeddingClient{}, llm, zap.NewNop())
}

func TestIdentifyClusters_GroupsSimilarMemories(t *testing.T) {
	ms := newMockMemoryStore()
	es := newMockEmbeddingStore()
	seedCluster(ms, es, "u1", 6)

	// An outlier pointing the other way stays out of the cluster.
	outlier := testMemory("u1", domain.SectorEpisodic, 0.8, time.Now())
	outlier.EmbeddingStatus = domain.EmbeddingComplete
	ms.put(outlier)
	_ = es.Upsert(context.Background(), &domain.Embedding{
		MemoryID: outlier.ID, Sector: domain.SectorSemantic, Dimension: 3, Vector: []float32{0, 0, 1},
	})

	svc := newTestConsolidationService(ms, es, &mockConsolidationStore{}, &mockLLMClient{response: "summary"})

	clusters, err := svc.IdentifyClusters(context.Background(), "u1", DefaultConsolidationConfig())
	if err != nil {
		t.Fatalf("IdentifyClusters: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(clusters))
	}
	if len(clusters[0].MemberIDs) != 6 {
		t.Errorf("members = %d, want 6", len(clusters[0].MemberIDs))
	}
	if clusters[0].AvgSimilarity < DefaultConsolidationConfig().SimilarityThreshold {
		t.Errorf("avg similarity = %v, want >= threshold", clusters[0].AvgSimilarity)
	}
	for _, id := range clusters[0].MemberIDs {
		if id == outlier.ID {
			t.Error("outlier joined the cluster")
		}
	}
}

func TestIdentifyClusters_BelowMinSizeDropped(t *testing.T) {
	ms := newMockMemoryStore()
	es := newMockEmbeddingStore()
	seedCluster(ms, es, "u1", 4) // below the default min cluster size of 5

	svc := newTestConsolidationService(ms, es, &mockConsolidationStore{}, &mockLLMClient{response: "summary"})

	clusters, err := svc.IdentifyClusters(context.Background(), "u1", DefaultConsolidationConfig())
	if err != nil {
		t.Fatalf("IdentifyClusters: %v", err)
	}
	if len(clusters) != 0 {
		t.Errorf("clusters = %d, want 0", len(clusters))
	}
}

func TestIdentifyClusters_SchemaDriftUsesTolerantQuery(t *testing.T) {
	ms := newMockMemoryStore()
	es := newMockEmbeddingStore()
	seedCluster(ms, es, "u1", 6)
	ms.episodicErr = fmt.Errorf("%w: column \"consolidated_into\" does not exist", store.ErrSchemaOutdated)

	svc := newTestConsolidationService(ms, es, &mockConsolidationStore{}, &mockLLMClient{response: "summary"})

	clusters, err := svc.IdentifyClusters(context.Background(), "u1", DefaultConsolidationConfig())
	if err != nil {
		t.Fatalf("IdentifyClusters: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1 via tolerant query", len(clusters))
	}
	if len(clusters[0].MemberIDs) != 6 {
		t.Errorf("members = %d, want 6", len(clusters[0].MemberIDs))
	}
}

func TestIdentifyClusters_TolerantQueryFailureDegradesToEmpty(t *testing.T) {
	ms := newMockMemoryStore()
	ms.episodicErr = fmt.Errorf("%w: column \"embedding_status\" does not exist", store.ErrSchemaOutdated)
	ms.tolerantErr = fmt.Errorf("connection reset")

	svc := newTestConsolidationService(ms, newMockEmbeddingStore(), &mockConsolidationStore{}, nil)

	clusters, err := svc.IdentifyClusters(context.Background(), "u1", DefaultConsolidationConfig())
	if err != nil {
		t.Fatalf("IdentifyClusters: %v", err)
	}
	if len(clusters) != 0 {
		t.Errorf("clusters = %d, want 0", len(clusters))
	}
}

func TestIdentifyClusters_NonSchemaErrorPropagates(t *testing.T) {
	ms := newMockMemoryStore()
	ms.episodicErr = fmt.Errorf("connection reset")

	svc := newTestConsolidationService(ms, newMockEmbeddingStore(), &mockConsolidationStore{}, nil)

	if _, err := svc.IdentifyClusters(context.Background(), "u1", DefaultConsolidationConfig()); err == nil {
		t.Fatal("expected error for non-schema store failure")
	}
}

func TestTruncateTopic(t *testing.T) {
	long := strings.Repeat("a", 80)
	got := truncateTopic(long)
	if len(got) != 53 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncated topic = %q (len %d)", got, len(got))
	}

	if got := truncateTopic("short"); got != "short" {
		t.Errorf("short topic = %q", got)
	}
}

func TestGenerateSummary_ClusterTooSmall(t *testing.T) {
	svc := newTestConsolidationService(newMockMemoryStore(), newMockEmbeddingStore(), &mockConsolidationStore{}, &mockLLMClient{})

	cluster := &domain.MemoryCluster{MemberIDs: []uuid.UUID{uuid.New(), uuid.New()}}
	_, err := svc.GenerateSummary(context.Background(), cluster)
	if !errors.Is(err, ErrClusterTooSmall) {
		t.Errorf("err = %v, want ErrClusterTooSmall", err)
	}
}

func TestGenerateSummary_NoLLM(t *testing.T) {
	ms := newMockMemoryStore()
	es := newMockEmbeddingStore()
	ids := seedCluster(ms, es, "u1", 5)
	svc := newTestConsolidationService(ms, es, &mockConsolidationStore{}, nil)

	_, err := svc.GenerateSummary(context.Background(), &domain.MemoryCluster{MemberIDs: ids})
	if !errors.Is(err, ErrLLMNotConfigured) {
		t.Errorf("err = %v, want ErrLLMNotConfigured", err)
	}
}

func TestGenerateSummary_TrimsWhitespace(t *testing.T) {
	ms := newMockMemoryStore()
	es := newMockEmbeddingStore()
	ids := seedCluster(ms, es, "u1", 5)
	llm := &mockLLMClient{response: "  a tidy summary \n"}
	svc := newTestConsolidationService(ms, es, &mockConsolidationStore{}, llm)

	summary, err := svc.GenerateSummary(context.Background(), &domain.MemoryCluster{MemberIDs: ids, Topic: "dogs"})
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if summary != "a tidy summary" {
		t.Errorf("summary = %q", summary)
	}
	if len(llm.prompts) != 1 || !strings.Contains(llm.prompts[0], "dogs") {
		t.Errorf("prompt missing topic: %v", llm.prompts)
	}
}

func TestConsolidate_CommitsSummary(t *testing.T) {
	ms := newMockMemoryStore()
	es := newMockEmbeddingStore()
	cs := &mockConsolidationStore{}
	ids := seedCluster(ms, es, "u1", 5)
	svc := newTestConsolidationService(ms, es, cs, &mockLLMClient{response: "dog walks, summarized"})

	cluster := &domain.MemoryCluster{MemberIDs: ids, CentroidID: ids[0], Topic: "dog walks"}
	record, err := svc.Consolidate(context.Background(), cluster, DefaultConsolidationConfig())
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	if len(cs.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(cs.commits))
	}
	commit := cs.commits[0]
	if commit.Summary.PrimarySector != domain.SectorSemantic {
		t.Errorf("summary sector = %s, want semantic", commit.Summary.PrimarySector)
	}
	if commit.Summary.Strength != 1 {
		t.Errorf("summary strength = %v, want 1", commit.Summary.Strength)
	}
	if commit.Summary.UserID != "u1" {
		t.Errorf("summary user = %s", commit.Summary.UserID)
	}
	if commit.StrengthReductionFactor != 0.5 {
		t.Errorf("strength reduction = %v, want 0.5", commit.StrengthReductionFactor)
	}
	if len(commit.SourceIDs) != 5 {
		t.Errorf("source ids = %d, want 5", len(commit.SourceIDs))
	}
	if record.SummaryID != commit.Summary.ID {
		t.Errorf("record summary id mismatch")
	}
}

func TestConsolidate_FailedSummaryLeavesNoMutation(t *testing.T) {
	ms := newMockMemoryStore()
	es := newMockEmbeddingStore()
	cs := &mockConsolidationStore{}
	ids := seedCluster(ms, es, "u1", 3) // below hard floor
	svc := newTestConsolidationService(ms, es, cs, &mockLLMClient{response: "x"})

	cluster := &domain.MemoryCluster{MemberIDs: ids, CentroidID: ids[0]}
	if _, err := svc.Consolidate(context.Background(), cluster, DefaultConsolidationConfig()); err == nil {
		t.Fatal("expected error for undersized cluster")
	}
	if len(cs.commits) != 0 {
		t.Error("commit happened despite failed summary")
	}
	for _, id := range ids {
		m, _ := ms.Get(context.Background(), id)
		if m.Strength != 0.8 || m.Consolidated() {
			t.Errorf("source memory mutated: %+v", m)
		}
	}
}

func TestRunConsolidation_CollectsClusterErrors(t *testing.T) {
	ms := newMockMemoryStore()
	es := newMockEmbeddingStore()
	cs := &mockConsolidationStore{err: fmt.Errorf("disk full")}
	seedCluster(ms, es, "u1", 6)
	svc := newTestConsolidationService(ms, es, cs, &mockLLMClient{response: "summary"})

	var progress []RunProgress
	result, err := svc.RunConsolidation(context.Background(), "u1", DefaultConsolidationConfig(), func(p RunProgress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("RunConsolidation: %v", err)
	}
	if result.ClustersIdentified != 1 {
		t.Errorf("identified = %d, want 1", result.ClustersIdentified)
	}
	if result.ClustersConsolidated != 0 {
		t.Errorf("consolidated = %d, want 0", result.ClustersConsolidated)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %v, want one", result.Errors)
	}
	if len(progress) == 0 || progress[0].MemoriesTotal != 6 {
		t.Errorf("progress = %+v", progress)
	}
}
