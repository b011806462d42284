package domain

import (
	"time"

	"github.com/google/uuid"
)

type Sector string

const (
	SectorEpisodic   Sector = "episodic"
	SectorSemantic   Sector = "semantic"
	SectorProcedural Sector = "procedural"
	SectorEmotional  Sector = "emotional"
	SectorReflective Sector = "reflective"
)

// Sectors lists every sector kind in a stable order.
var Sectors = []Sector{SectorEpisodic, SectorSemantic, SectorProcedural, SectorEmotional, SectorReflective}

func ValidSector(s string) bool {
	switch Sector(s) {
	case SectorEpisodic, SectorSemantic, SectorProcedural, SectorEmotional, SectorReflective:
		return true
	}
	return false
}

type EmbeddingStatus string

const (
	EmbeddingPending  EmbeddingStatus = "pending"
	EmbeddingComplete EmbeddingStatus = "complete"
	EmbeddingFailed   EmbeddingStatus = "failed"
)

type Memory struct {
	ID               uuid.UUID       `json:"id"`
	UserID           string          `json:"user_id"`
	SessionID        string          `json:"session_id,omitempty"`
	Content          string          `json:"content"`
	PrimarySector    Sector          `json:"primary_sector"`
	Salience         float64         `json:"salience"`
	Strength         float64         `json:"strength"`
	DecayRate        float64         `json:"decay_rate,omitempty"` // per-memory lambda override, 0 = sector default
	AccessCount      int             `json:"access_count"`
	CreatedAt        time.Time       `json:"created_at"`
	LastAccessedAt   time.Time       `json:"last_accessed_at"`
	ConsolidatedInto *uuid.UUID      `json:"consolidated_into,omitempty"`
	EmbeddingStatus  EmbeddingStatus `json:"embedding_status"`
}

// Consolidated reports whether the memory has been folded into a semantic
// summary. Consolidated memories only accept deletion and archival.
func (m *Memory) Consolidated() bool {
	return m.ConsolidatedInto != nil
}

type MemoryWithScore struct {
	Memory
	Score      float64 `json:"score"`
	IsArchived bool    `json:"is_archived,omitempty"`
}

type Embedding struct {
	MemoryID  uuid.UUID `json:"memory_id"`
	Sector    Sector    `json:"sector"`
	Dimension int       `json:"dimension"`
	Vector    []float32 `json:"-"`
}

type LinkKind string

const (
	LinkConsolidation LinkKind = "consolidation"
	LinkSimilarity    LinkKind = "similarity"
)

// MemoryLink is a waypoint edge between two memories. Deleting either
// endpoint must delete the link.
type MemoryLink struct {
	SourceID  uuid.UUID `json:"source_id"`
	TargetID  uuid.UUID `json:"target_id"`
	Kind      LinkKind  `json:"kind"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

type ReinforcementType string

const (
	ReinforceAccess     ReinforcementType = "access"
	ReinforceExplicit   ReinforcementType = "explicit"
	ReinforceImportance ReinforcementType = "importance"
)

type ReinforcementHistoryEntry struct {
	MemoryID       uuid.UUID         `json:"memory_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Type           ReinforcementType `json:"type"`
	Boost          float64           `json:"boost"`
	StrengthBefore float64           `json:"strength_before"`
	StrengthAfter  float64           `json:"strength_after"`
}

type ConsolidationRecord struct {
	SummaryID uuid.UUID   `json:"summary_id"`
	SourceIDs []uuid.UUID `json:"source_ids"`
	CreatedAt time.Time   `json:"created_at"`
	Topic     string      `json:"topic"`
}

type ArchivedMemory struct {
	ID                uuid.UUID `json:"id"`
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id,omitempty"`
	Content           string    `json:"content"`
	PrimarySector     Sector    `json:"primary_sector"`
	Salience          float64   `json:"salience"`
	Strength          float64   `json:"strength"`
	AccessCount       int       `json:"access_count"`
	ArchivedAt        time.Time `json:"archived_at"`
	OriginalCreatedAt time.Time `json:"original_created_at"`
}

// MemoryCluster is a group of episodic memories similar enough to be
// consolidated into one semantic summary.
type MemoryCluster struct {
	MemberIDs     []uuid.UUID `json:"member_ids"`
	CentroidID    uuid.UUID   `json:"centroid_id"`
	Centroid      []float32   `json:"-"`
	AvgSimilarity float64     `json:"avg_similarity"`
	Topic         string      `json:"topic"`
}

// DecayConfig holds the decay and maintenance parameters shared by the
// lifecycle services. Snapshots are immutable.
type DecayConfig struct {
	BaseLambda         float64            `json:"base_lambda"`
	SectorMultipliers  map[Sector]float64 `json:"sector_multipliers"`
	ReinforcementBoost float64            `json:"reinforcement_boost"`
	AccessBoost        float64            `json:"access_boost"`
	ImportanceBoost    float64            `json:"importance_boost"`
	MinimumStrength    float64            `json:"minimum_strength"`
	PruningThreshold   float64            `json:"pruning_threshold"`
}

func (c DecayConfig) Clone() DecayConfig {
	out := c
	out.SectorMultipliers = make(map[Sector]float64, len(c.SectorMultipliers))
	for k, v := range c.SectorMultipliers {
		out.SectorMultipliers[k] = v
	}
	return out
}

type PruneReason string

const (
	PruneLowStrength PruneReason = "low_strength"
	PruneOldAge      PruneReason = "old_age"
	PruneLowAccess   PruneReason = "low_access"
)

type PruneCriteria struct {
	MinStrength    float64 `json:"min_strength"`
	MaxAgeDays     float64 `json:"max_age_days"`
	MinAccessCount int     `json:"min_access_count"`
}

// DefaultPruneCriteria matches the health-monitor forgetting thresholds.
func DefaultPruneCriteria() PruneCriteria {
	return PruneCriteria{MinStrength: 0.1, MaxAgeDays: 180, MinAccessCount: 0}
}

type PruneCandidate struct {
	Memory Memory      `json:"memory"`
	Reason PruneReason `json:"reason"`
}

type PruneStats struct {
	DeletedCount         int   `json:"deleted_count"`
	FreedBytes           int64 `json:"freed_bytes"`
	OrphanedLinksRemoved int   `json:"orphaned_links_removed"`
}

type ArchiveResult struct {
	ArchivedCount int       `json:"archived_count"`
	FreedBytes    int64     `json:"freed_bytes"`
	Timestamp     time.Time `json:"timestamp"`
}

type RestoreResult struct {
	RestoredCount int       `json:"restored_count"`
	MemoryID      uuid.UUID `json:"memory_id"`
	Timestamp     time.Time `json:"timestamp"`
}

type ArchiveUsage struct {
	Count     int   `json:"count"`
	BytesUsed int64 `json:"bytes_used"`
}
