package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type StrengthUpdate struct {
	ID       uuid.UUID
	Strength float64
}

// ConsolidationCommit carries everything a consolidation transaction writes:
// the summary memory, bidirectional links to each source, the multiplicative
// strength reduction, the consolidated_into markers, and one history row.
type ConsolidationCommit struct {
	Summary                 *Memory
	SummaryEmbedding        []float32
	SourceIDs               []uuid.UUID
	StrengthReductionFactor float64
	Topic                   string
}

type AgeBuckets struct {
	Last24h   int `json:"last_24h"`
	LastWeek  int `json:"last_week"`
	LastMonth int `json:"last_month"`
	Older     int `json:"older"`
}

type ForgettingCounts struct {
	LowStrength int `json:"low_strength"`
	OldAge      int `json:"old_age"`
	LowAccess   int `json:"low_access"`
	Total       int `json:"total"` // distinct memories in the union
}

type MemoryStore interface {
	Create(ctx context.Context, m *Memory) error
	Get(ctx context.Context, id uuid.UUID) (*Memory, error)
	GetByUser(ctx context.Context, userID string, id uuid.UUID) (*Memory, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	ListByUser(ctx context.Context, userID string) ([]Memory, error)
	ListEpisodicUnconsolidated(ctx context.Context, userID string, limit int) ([]Memory, error)
	// ListEpisodicTolerant lists episodic memories without referencing the
	// consolidation columns, for schemas predating that migration.
	ListEpisodicTolerant(ctx context.Context, userID string, limit int) ([]Memory, error)
	CountEpisodicUnconsolidated(ctx context.Context, userID string) (int, error)
	Recall(ctx context.Context, userID string, embedding []float32, topK int) ([]MemoryWithScore, error)
	UpdateStrength(ctx context.Context, id uuid.UUID, strength float64) error
	BatchUpdateStrength(ctx context.Context, updates []StrengthUpdate) error
	Reinforce(ctx context.Context, id uuid.UUID, strength float64, incrementAccess bool) error
	ListDistinctUserIDs(ctx context.Context) ([]string, error)
	CountBySector(ctx context.Context, userID string) (map[Sector]int, error)
	CountByAge(ctx context.Context, userID string, now time.Time) (*AgeBuckets, error)
	ForgettingCandidates(ctx context.Context, userID string, now time.Time) (*ForgettingCounts, error)
	StorageBytes(ctx context.Context, userID string) (int64, error)
}

type EmbeddingStore interface {
	Upsert(ctx context.Context, e *Embedding) error
	GetSemantic(ctx context.Context, memoryID uuid.UUID) (*Embedding, error)
}

type LinkStore interface {
	Create(ctx context.Context, link *MemoryLink) error
	CountTouching(ctx context.Context, ids []uuid.UUID) (int, error)
}

// PruneStore owns the multi-table prune transaction: links, embeddings,
// metadata, tag associations, then the memories themselves.
type PruneStore interface {
	CollectPruneStats(ctx context.Context, userID string, ids []uuid.UUID) (*PruneStats, error)
	PruneMemories(ctx context.Context, userID string, ids []uuid.UUID) (*PruneStats, error)
}

type ArchiveStore interface {
	ArchiveMemories(ctx context.Context, userID string, ids []uuid.UUID, retainEmbeddings bool) (*ArchiveResult, error)
	ArchiveOlderThan(ctx context.Context, userID string, cutoff time.Time, retainEmbeddings bool) (*ArchiveResult, error)
	SearchArchive(ctx context.Context, userID, query string) ([]ArchivedMemory, error)
	Restore(ctx context.Context, userID string, id uuid.UUID) (*Memory, error)
	Usage(ctx context.Context, userID string) (*ArchiveUsage, error)
}

type ConsolidationStore interface {
	CommitConsolidation(ctx context.Context, c *ConsolidationCommit) error
	ListHistory(ctx context.Context, userID string, limit int) ([]ConsolidationRecord, error)
}

type ReinforcementHistoryStore interface {
	Record(ctx context.Context, entry *ReinforcementHistoryEntry) error
	ListByMemory(ctx context.Context, memoryID uuid.UUID, limit int) ([]ReinforcementHistoryEntry, error)
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LLMClient is the narrow generator surface the core depends on. Providers
// may time out; callers bound calls with a context deadline.
type LLMClient interface {
	Generate(ctx context.Context, prompt, system string) (string, error)
}
