package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinClusterSizeForSummary is the hard floor below which no summary is ever
// generated, regardless of configuration.
const MinClusterSizeForSummary = 5

const (
	topicMaxLen             = 50
	consolidationSystemRole = "You are a memory consolidation assistant. Produce a concise semantic summary that preserves the essential facts across the given episodic memories."
)

type ConsolidationConfig struct {
	SimilarityThreshold     float64 `json:"similarity_threshold"`
	MinClusterSize          int     `json:"min_cluster_size"`
	BatchSize               int     `json:"batch_size"`
	StrengthReductionFactor float64 `json:"strength_reduction_factor"`
}

func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		SimilarityThreshold:     0.75,
		MinClusterSize:          5,
		BatchSize:               100,
		StrengthReductionFactor: 0.5,
	}
}

// ConsolidationRunResult summarizes one RunConsolidation pass. A failed
// cluster does not abort the run; its error is collected here.
type ConsolidationRunResult struct {
	ClustersIdentified   int      `json:"clusters_identified"`
	ClustersConsolidated int      `json:"clusters_consolidated"`
	MemoriesProcessed    int      `json:"memories_processed"`
	Errors               []string `json:"errors"`
}

// RunProgress is reported to the scheduler as a run advances.
type RunProgress struct {
	ClustersIdentified   int
	ClustersConsolidated int
	MemoriesProcessed    int
	MemoriesTotal        int
}

// ConsolidationService compresses clusters of related episodic memories into
// single semantic summary memories linked back to their sources.
type ConsolidationService struct {
	memoryStore        domain.MemoryStore
	embeddingStore     domain.EmbeddingStore
	consolidationStore domain.ConsolidationStore
	embeddingClient    domain.EmbeddingClient
	llmClient          domain.LLMClient
	logger             *zap.Logger
}

func NewConsolidationService(
	ms domain.MemoryStore,
	es domain.EmbeddingStore,
	cs domain.ConsolidationStore,
	embeddingClient domain.EmbeddingClient,
	llmClient domain.LLMClient,
	logger *zap.Logger,
) *ConsolidationService {
	return &ConsolidationService{
		memoryStore:        ms,
		embeddingStore:     es,
		consolidationStore: cs,
		embeddingClient:    embeddingClient,
		llmClient:          llmClient,
		logger:             logger,
	}
}

// IdentifyClusters loads unconsolidated episodic memories with complete
// embeddings and groups them by greedy agglomerative clustering over cosine
// similarity. Schema drift in the underlying store falls back to a query
// that skips the consolidation columns; only when that fallback fails too
// does the result degrade to empty.
func (s *ConsolidationService) IdentifyClusters(ctx context.Context, userID string, cfg ConsolidationConfig) ([]domain.MemoryCluster, error) {
	memories, err := s.memoryStore.ListEpisodicUnconsolidated(ctx, userID, cfg.BatchSize)
	if err != nil {
		if !errors.Is(err, store.ErrSchemaOutdated) {
			return nil, fmt.Errorf("list episodic memories: %w", err)
		}
		s.logger.Warn("consolidation columns missing, retrying with tolerant query", zap.Error(err))
		memories, err = s.memoryStore.ListEpisodicTolerant(ctx, userID, cfg.BatchSize)
		if err != nil {
			s.logger.Warn("tolerant query failed, skipping clustering", zap.Error(err))
			return []domain.MemoryCluster{}, nil
		}
	}

	type member struct {
		memory domain.Memory
		vector []float32
	}
	members := make([]member, 0, len(memories))
	for _, m := range memories {
		emb, err := s.embeddingStore.GetSemantic(ctx, m.ID)
		if err != nil {
			s.logger.Debug("dropping memory with unavailable embedding",
				zap.String("memory_id", m.ID.String()), zap.Error(err))
			continue
		}
		members = append(members, member{memory: m, vector: emb.Vector})
	}

	assigned := make(map[uuid.UUID]bool, len(members))
	var clusters []domain.MemoryCluster

	for i := range members {
		seed := members[i]
		if assigned[seed.memory.ID] {
			continue
		}
		assigned[seed.memory.ID] = true

		memberVecs := [][]float32{seed.vector}
		memberIDs := []uuid.UUID{seed.memory.ID}
		centroid := normalize(append([]float32(nil), seed.vector...))

		for j := i + 1; j < len(members); j++ {
			cand := members[j]
			if assigned[cand.memory.ID] {
				continue
			}
			if cosineSimilarity(centroid, cand.vector) >= cfg.SimilarityThreshold {
				assigned[cand.memory.ID] = true
				memberVecs = append(memberVecs, cand.vector)
				memberIDs = append(memberIDs, cand.memory.ID)
				centroid = meanVector(memberVecs)
			}
		}

		if len(memberIDs) < cfg.MinClusterSize {
			continue
		}

		// Pick the member closest to the centroid as the cluster's anchor.
		bestIdx, bestSim := 0, -1.0
		for k, v := range memberVecs {
			if sim := cosineSimilarity(centroid, v); sim > bestSim {
				bestIdx, bestSim = k, sim
			}
		}

		cluster := domain.MemoryCluster{
			MemberIDs:     memberIDs,
			CentroidID:    memberIDs[bestIdx],
			Centroid:      centroid,
			AvgSimilarity: meanPairwiseSimilarity(memberVecs),
		}

		var anchor *domain.Memory
		for _, m := range memories {
			if m.ID == cluster.CentroidID {
				anchor = &m
				break
			}
		}
		if anchor != nil {
			cluster.Topic = truncateTopic(anchor.Content)
		}

		clusters = append(clusters, cluster)
	}

	return clusters, nil
}

func meanPairwiseSimilarity(vecs [][]float32) float64 {
	if len(vecs) < 2 {
		return 1
	}
	var sum float64
	var n int
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sum += cosineSimilarity(vecs[i], vecs[j])
			n++
		}
	}
	return sum / float64(n)
}

func truncateTopic(content string) string {
	if len(content) > topicMaxLen {
		return content[:topicMaxLen] + "..."
	}
	return content
}

// GenerateSummary asks the LLM for a semantic summary of the cluster's
// member contents.
func (s *ConsolidationService) GenerateSummary(ctx context.Context, cluster *domain.MemoryCluster) (string, error) {
	if len(cluster.MemberIDs) < MinClusterSizeForSummary {
		return "", fmt.Errorf("%w: %d members, need %d", ErrClusterTooSmall, len(cluster.MemberIDs), MinClusterSizeForSummary)
	}
	if s.llmClient == nil {
		return "", ErrLLMNotConfigured
	}

	contents := make([]string, 0, len(cluster.MemberIDs))
	for _, id := range cluster.MemberIDs {
		m, err := s.memoryStore.Get(ctx, id)
		if err != nil {
			s.logger.Debug("skipping unavailable cluster member",
				zap.String("memory_id", id.String()), zap.Error(err))
			continue
		}
		contents = append(contents, m.Content)
	}
	if len(contents) == 0 {
		return "", ErrNoMemoryContents
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nMemories:\n", cluster.Topic)
	for i, c := range contents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}

	summary, err := s.llmClient.Generate(ctx, b.String(), consolidationSystemRole)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLLMGeneration, err)
	}
	return strings.TrimSpace(summary), nil
}

// Consolidate generates a summary for the cluster and commits the summary
// memory, bidirectional links, source strength reduction, consolidated_into
// markers, and a history record in a single transaction.
func (s *ConsolidationService) Consolidate(ctx context.Context, cluster *domain.MemoryCluster, cfg ConsolidationConfig) (*domain.ConsolidationRecord, error) {
	summaryText, err := s.GenerateSummary(ctx, cluster)
	if err != nil {
		return nil, err
	}

	// Locate the owning user and session via a cluster member, centroid first.
	var owner *domain.Memory
	lookup := append([]uuid.UUID{cluster.CentroidID}, cluster.MemberIDs...)
	for _, id := range lookup {
		m, err := s.memoryStore.Get(ctx, id)
		if err == nil {
			owner = m
			break
		}
	}
	if owner == nil {
		return nil, ErrCentroidNotFound
	}

	summary := &domain.Memory{
		ID:              uuid.New(),
		UserID:          owner.UserID,
		SessionID:       owner.SessionID,
		Content:         summaryText,
		PrimarySector:   domain.SectorSemantic,
		Salience:        owner.Salience,
		Strength:        1,
		EmbeddingStatus: domain.EmbeddingPending,
	}

	var summaryVec []float32
	if s.embeddingClient != nil {
		if vec, err := s.embeddingClient.Embed(ctx, summaryText); err == nil {
			summaryVec = vec
			summary.EmbeddingStatus = domain.EmbeddingComplete
		} else {
			s.logger.Warn("failed to embed consolidation summary", zap.Error(err))
		}
	}

	commit := &domain.ConsolidationCommit{
		Summary:                 summary,
		SummaryEmbedding:        summaryVec,
		SourceIDs:               cluster.MemberIDs,
		StrengthReductionFactor: cfg.StrengthReductionFactor,
		Topic:                   cluster.Topic,
	}
	if err := s.consolidationStore.CommitConsolidation(ctx, commit); err != nil {
		return nil, fmt.Errorf("consolidation commit: %w", err)
	}

	s.logger.Info("consolidated cluster",
		zap.String("user_id", owner.UserID),
		zap.String("summary_id", summary.ID.String()),
		zap.Int("sources", len(cluster.MemberIDs)),
		zap.String("topic", cluster.Topic))

	return &domain.ConsolidationRecord{
		SummaryID: summary.ID,
		SourceIDs: cluster.MemberIDs,
		CreatedAt: time.Now(),
		Topic:     cluster.Topic,
	}, nil
}

// RunConsolidation identifies clusters and consolidates each in sequence.
// A failing cluster is recorded and the remainder proceeds.
func (s *ConsolidationService) RunConsolidation(ctx context.Context, userID string, cfg ConsolidationConfig, onProgress func(RunProgress)) (*ConsolidationRunResult, error) {
	result := &ConsolidationRunResult{Errors: []string{}}

	clusters, err := s.IdentifyClusters(ctx, userID, cfg)
	if err != nil {
		return nil, err
	}
	result.ClustersIdentified = len(clusters)

	total := 0
	for _, c := range clusters {
		total += len(c.MemberIDs)
	}
	report := func() {
		if onProgress != nil {
			onProgress(RunProgress{
				ClustersIdentified:   result.ClustersIdentified,
				ClustersConsolidated: result.ClustersConsolidated,
				MemoriesProcessed:    result.MemoriesProcessed,
				MemoriesTotal:        total,
			})
		}
	}
	report()

	for i := range clusters {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.Consolidate(ctx, &clusters[i], cfg); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cluster %s: %v", clusters[i].Topic, err))
		} else {
			result.ClustersConsolidated++
			result.MemoriesProcessed += len(clusters[i].MemberIDs)
		}
		report()
	}

	return result, nil
}
