package reasoning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"go.uber.org/zap"
)

func newTestCoordinator() *Coordinator {
	logger := zap.NewNop()
	return NewCoordinator(NewSynthesizer(logger), NewConflictEngine(logger), logger)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) record(event string, data map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func allStreamTypes() []domain.StreamType {
	return []domain.StreamType{
		domain.StreamAnalytical,
		domain.StreamCreative,
		domain.StreamCritical,
		domain.StreamSynthetic,
	}
}

func TestExecuteStreams_AllComplete(t *testing.T) {
	c := newTestCoordinator()
	rec := &eventRecorder{}

	problem := &domain.ReasoningProblem{
		Description: "Improve cache hit rate. Reduce tail latency",
		Constraints: []string{"no additional hardware"},
	}

	result, err := c.ExecuteStreams(context.Background(), problem, allStreamTypes(), 10*time.Second, rec.record)
	if err != nil {
		t.Fatalf("ExecuteStreams: %v", err)
	}

	if len(result.StreamResults) != 4 {
		t.Fatalf("stream results = %d, want 4", len(result.StreamResults))
	}
	for _, sr := range result.StreamResults {
		if sr.Status != domain.StreamCompleted {
			t.Errorf("stream %s status = %s, want completed", sr.StreamType, sr.Status)
		}
		if sr.Conclusion == "" || len(sr.Insights) == 0 {
			t.Errorf("stream %s produced no output", sr.StreamType)
		}
	}
	if result.Conclusion == "" {
		t.Error("empty synthesis conclusion")
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("confidence = %v", result.Confidence)
	}

	m := result.Coordination
	if m.TotalCoordinationTime != m.Sync25+m.Sync50+m.Sync75 {
		t.Errorf("total coordination time %v != sum of checkpoints", m.TotalCoordinationTime)
	}
	if m.OverheadPercentage < 0 {
		t.Errorf("overhead = %v", m.OverheadPercentage)
	}

	if got := rec.count(EventStreamStarted); got != 4 {
		t.Errorf("stream_started events = %d, want 4", got)
	}
	if got := rec.count(EventSyncCheckpoint); got != 3 {
		t.Errorf("sync_checkpoint events = %d, want 3", got)
	}
	if rec.count(EventSynthesisStarted) != 1 || rec.count(EventSynthesisCompleted) != 1 {
		t.Error("synthesis events missing")
	}
	if got := rec.count(EventStreamCompleted); got != 4 {
		t.Errorf("stream_completed events = %d, want 4", got)
	}
}

func TestExecuteStreams_NoStreams(t *testing.T) {
	c := newTestCoordinator()

	if _, err := c.ExecuteStreams(context.Background(), &domain.ReasoningProblem{Description: "x"}, nil, time.Second, nil); err == nil {
		t.Fatal("expected error for empty stream set")
	}
}

func TestExecuteStreams_UnknownType(t *testing.T) {
	c := newTestCoordinator()

	types := []domain.StreamType{domain.StreamType("psychic")}
	if _, err := c.ExecuteStreams(context.Background(), &domain.ReasoningProblem{Description: "x"}, types, time.Second, nil); err == nil {
		t.Fatal("expected error for unknown stream type")
	}
}

func TestExecuteStreams_DeadlineMarksTimedOut(t *testing.T) {
	c := newTestCoordinator()

	// An already-expired budget forces every stream past its first context
	// check; the run still returns partial results rather than an error.
	result, err := c.ExecuteStreams(context.Background(), &domain.ReasoningProblem{Description: "x"}, allStreamTypes(), time.Nanosecond, nil)
	if err != nil {
		t.Fatalf("ExecuteStreams: %v", err)
	}

	if len(result.StreamResults) != 4 {
		t.Fatalf("stream results = %d, want 4", len(result.StreamResults))
	}
	for _, sr := range result.StreamResults {
		if sr.Status != domain.StreamTimedOut {
			t.Errorf("stream %s status = %s, want timed_out", sr.StreamType, sr.Status)
		}
	}
	if result.Conclusion != "All reasoning streams failed to produce output" {
		t.Errorf("conclusion = %q", result.Conclusion)
	}
	if result.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", result.Confidence)
	}
}

func TestExecuteStreams_PairedModeKeepsBothResults(t *testing.T) {
	c := newTestCoordinator()

	types := []domain.StreamType{domain.StreamCreative, domain.StreamSynthetic}
	result, err := c.ExecuteStreams(context.Background(), &domain.ReasoningProblem{Description: "ship the feature"}, types, 10*time.Second, nil)
	if err != nil {
		t.Fatalf("ExecuteStreams: %v", err)
	}

	if len(result.StreamResults) != 2 {
		t.Fatalf("stream results = %d, want 2", len(result.StreamResults))
	}
	seen := map[domain.StreamType]bool{}
	for _, sr := range result.StreamResults {
		seen[sr.StreamType] = true
	}
	if !seen[domain.StreamCreative] || !seen[domain.StreamSynthetic] {
		t.Errorf("stream types = %v", seen)
	}
}
