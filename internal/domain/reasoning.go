package domain

import (
	"time"

	"github.com/google/uuid"
)

type StreamType string

const (
	StreamAnalytical StreamType = "analytical"
	StreamCreative   StreamType = "creative"
	StreamCritical   StreamType = "critical"
	StreamSynthetic  StreamType = "synthetic"
)

func ValidStreamType(s string) bool {
	switch StreamType(s) {
	case StreamAnalytical, StreamCreative, StreamCritical, StreamSynthetic:
		return true
	}
	return false
}

type StreamStatus string

const (
	StreamCompleted StreamStatus = "completed"
	StreamTimedOut  StreamStatus = "timed_out"
	StreamFailed    StreamStatus = "failed"
	StreamCancelled StreamStatus = "cancelled"
)

type ReasoningProblem struct {
	ID          uuid.UUID `json:"id"`
	Description string    `json:"description"`
	Context     string    `json:"context,omitempty"`
	Constraints []string  `json:"constraints,omitempty"`
	Goals       []string  `json:"goals,omitempty"`
	Complexity  float64   `json:"complexity,omitempty"`
}

type Insight struct {
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
	Importance float64  `json:"importance"`
	Sources    []string `json:"sources"`
}

type StreamResult struct {
	StreamID       string        `json:"stream_id"`
	StreamType     StreamType    `json:"stream_type"`
	Conclusion     string        `json:"conclusion"`
	Reasoning      []string      `json:"reasoning"`
	Insights       []Insight     `json:"insights"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
	Status         StreamStatus  `json:"status"`
	Error          string        `json:"error,omitempty"`
}

type Recommendation struct {
	Content    string  `json:"content"`
	Priority   int     `json:"priority"` // 1..10
	Confidence float64 `json:"confidence"`
}

type QualityMetrics struct {
	OverallScore float64 `json:"overall_score"`
	Coherence    float64 `json:"coherence"`
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
}

type CoordinationMetrics struct {
	Sync25                time.Duration `json:"sync_25_ms"`
	Sync50                time.Duration `json:"sync_50_ms"`
	Sync75                time.Duration `json:"sync_75_ms"`
	TotalCoordinationTime time.Duration `json:"total_coordination_time_ms"`
	OverheadPercentage    float64       `json:"overhead_percentage"`
}

type SynthesizedResult struct {
	Conclusion      string              `json:"conclusion"`
	Insights        []Insight           `json:"insights"`
	Recommendations []Recommendation    `json:"recommendations"`
	Confidence      float64             `json:"confidence"`
	Quality         QualityMetrics      `json:"quality"`
	Conflicts       []Conflict          `json:"conflicts"`
	StreamResults   []StreamResult      `json:"stream_results"`
	Coordination    CoordinationMetrics `json:"coordination_metrics"`
}

// AllStreamsFailed reports whether the result is the sentinel produced when
// every stream failed, which the API facade uses to drive the rule-based
// fallback.
func (r *SynthesizedResult) AllStreamsFailed() bool {
	if len(r.StreamResults) == 0 {
		return true
	}
	for _, sr := range r.StreamResults {
		if sr.Status == StreamCompleted {
			return false
		}
	}
	return true
}

type ConflictType string

const (
	ConflictFactual        ConflictType = "factual"
	ConflictLogical        ConflictType = "logical"
	ConflictMethodological ConflictType = "methodological"
	ConflictEvaluative     ConflictType = "evaluative"
	ConflictPredictive     ConflictType = "predictive"
)

type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// SeverityRank orders severities for comparisons; higher is more severe.
func SeverityRank(s ConflictSeverity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

type ConflictEvidence struct {
	Stream     string  `json:"stream"`
	Claim      string  `json:"claim"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence"`
}

type ResolutionFramework struct {
	Approach          string   `json:"approach"`
	Steps             []string `json:"steps"`
	Considerations    []string `json:"considerations"`
	RecommendedAction string   `json:"recommended_action"`
}

type Conflict struct {
	ID            uuid.UUID            `json:"id"`
	Type          ConflictType         `json:"type"`
	Severity      ConflictSeverity     `json:"severity"`
	SourceStreams []string             `json:"source_streams"`
	Description   string               `json:"description"`
	Evidence      []ConflictEvidence   `json:"evidence"`
	Resolution    *ResolutionFramework `json:"resolution,omitempty"`
	DetectedAt    time.Time            `json:"detected_at"`
}

type SessionKind string

const (
	SessionThink    SessionKind = "think"
	SessionParallel SessionKind = "parallel"
)

type SessionStatus string

const (
	SessionProcessing SessionStatus = "processing"
	SessionComplete   SessionStatus = "complete"
	SessionError      SessionStatus = "error"
)

type Session struct {
	ID              string             `json:"id"`
	Kind            SessionKind        `json:"kind"`
	Status          SessionStatus      `json:"status"`
	Progress        float64            `json:"progress"`
	Stage           string             `json:"stage"`
	ActiveStreams   []StreamType       `json:"active_streams,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Error           string             `json:"error,omitempty"`
	SyncCheckpoints map[int]bool       `json:"sync_checkpoints"` // 25, 50, 75
	Result          *SynthesizedResult `json:"result,omitempty"`
}
