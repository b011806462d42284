package reasoning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
)

// ProgressFunc receives progress ticks in [0,1] and any insight produced at
// that point. The insight may be nil for a bare progress tick.
type ProgressFunc func(fraction float64, insight *domain.Insight)

// Stream is a single reasoning mode. Execute must honor ctx cancellation and
// report progress through the callback so the coordinator can checkpoint.
type Stream interface {
	Type() domain.StreamType
	Execute(ctx context.Context, problem *domain.ReasoningProblem, progress ProgressFunc) (*domain.StreamResult, error)
}

// InsightBoard is a shared, point-in-time readable collection of insights
// published by running streams. The synthetic stream reads it to integrate
// across the others.
type InsightBoard struct {
	mu       sync.RWMutex
	insights []domain.Insight
}

func NewInsightBoard() *InsightBoard {
	return &InsightBoard{}
}

func (b *InsightBoard) Publish(in domain.Insight) {
	b.mu.Lock()
	b.insights = append(b.insights, in)
	b.mu.Unlock()
}

// Snapshot returns a copy of everything published so far.
func (b *InsightBoard) Snapshot() []domain.Insight {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Insight, len(b.insights))
	copy(out, b.insights)
	return out
}

// NewStream constructs the built-in variant for the given type. The synthetic
// stream reads the shared board; the others ignore it.
func NewStream(t domain.StreamType, board *InsightBoard) (Stream, error) {
	switch t {
	case domain.StreamAnalytical:
		return &analyticalStream{}, nil
	case domain.StreamCreative:
		return &creativeStream{}, nil
	case domain.StreamCritical:
		return &criticalStream{}, nil
	case domain.StreamSynthetic:
		return &syntheticStream{board: board}, nil
	default:
		return nil, fmt.Errorf("unknown stream type %q", t)
	}
}

func newStreamID(t domain.StreamType) string {
	return fmt.Sprintf("%s-%s", t, uuid.NewString()[:8])
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// subProblems splits the problem into workable parts: explicit goals first,
// sentence fragments of the description otherwise.
func subProblems(p *domain.ReasoningProblem) []string {
	if len(p.Goals) > 0 {
		return p.Goals
	}
	var parts []string
	for _, s := range strings.FieldsFunc(p.Description, func(r rune) bool {
		return r == '.' || r == ';' || r == '?'
	}) {
		s = strings.TrimSpace(s)
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		parts = []string{p.Description}
	}
	return parts
}

// analyticalStream decomposes the problem, weighs the available evidence, and
// builds a structured conclusion. Confidence grows with evidence count.
type analyticalStream struct{}

func (s *analyticalStream) Type() domain.StreamType { return domain.StreamAnalytical }

func (s *analyticalStream) Execute(ctx context.Context, problem *domain.ReasoningProblem, progress ProgressFunc) (*domain.StreamResult, error) {
	start := time.Now()
	id := newStreamID(s.Type())
	result := &domain.StreamResult{
		StreamID:   id,
		StreamType: s.Type(),
		Status:     domain.StreamCompleted,
	}

	parts := subProblems(problem)
	result.Reasoning = append(result.Reasoning,
		fmt.Sprintf("Decomposed problem into %d sub-problems", len(parts)))
	progress(0.25, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	evidence := 0
	for i, part := range parts {
		in := domain.Insight{
			Content:    fmt.Sprintf("Analysis of %q: evaluate constraints and dependencies before acting", part),
			Confidence: clamp01(0.6 + 0.05*float64(len(parts)-i)),
			Importance: clamp01(0.5 + 0.1*float64(len(parts)-i)),
			Sources:    []string{id},
		}
		result.Insights = append(result.Insights, in)
		result.Reasoning = append(result.Reasoning, fmt.Sprintf("Evaluated evidence for sub-problem %d", i+1))
		evidence++
	}
	if problem.Context != "" {
		evidence++
		result.Reasoning = append(result.Reasoning, "Incorporated supplied context as supporting evidence")
	}
	progress(0.5, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	for _, c := range problem.Constraints {
		result.Reasoning = append(result.Reasoning, fmt.Sprintf("Checked constraint: %s", c))
	}
	progress(0.75, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	result.Conclusion = fmt.Sprintf(
		"Structured analysis across %d sub-problems suggests addressing them in dependency order, starting with: %s",
		len(parts), parts[0])
	result.Confidence = clamp01(0.5 + 0.08*float64(evidence))
	result.ProcessingTime = time.Since(start)
	progress(1, nil)
	return result, nil
}

// creativeStream produces alternative framings and analogies. Confidence is
// novelty times feasibility.
type creativeStream struct{}

func (s *creativeStream) Type() domain.StreamType { return domain.StreamCreative }

func (s *creativeStream) Execute(ctx context.Context, problem *domain.ReasoningProblem, progress ProgressFunc) (*domain.StreamResult, error) {
	start := time.Now()
	id := newStreamID(s.Type())
	result := &domain.StreamResult{
		StreamID:   id,
		StreamType: s.Type(),
		Status:     domain.StreamCompleted,
	}

	framings := []string{
		fmt.Sprintf("Reframe %q as a resource-allocation problem", problem.Description),
		fmt.Sprintf("Invert the problem: what would guarantee failure of %q", problem.Description),
		"Borrow an analogy from a mature adjacent domain and map its solution back",
	}
	result.Reasoning = append(result.Reasoning, "Generated alternative framings")
	progress(0.25, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	novelty := clamp01(0.4 + 0.15*float64(len(framings)))
	feasibility := 0.7
	if len(problem.Constraints) > 2 {
		feasibility = 0.55
	}
	for i, f := range framings {
		in := domain.Insight{
			Content:    f,
			Confidence: clamp01(novelty * feasibility),
			Importance: clamp01(0.45 + 0.1*float64(i)),
			Sources:    []string{id},
		}
		result.Insights = append(result.Insights, in)
		progress(0.25+0.25*float64(i+1)/float64(len(framings)+1), &in)
		if err := checkCtx(ctx); err != nil {
			return result, err
		}
	}

	result.Reasoning = append(result.Reasoning, "Scored framings on novelty and feasibility")
	progress(0.75, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	result.Conclusion = "The most promising unconventional path is the inverted framing: eliminate guaranteed failure modes first, then optimize"
	result.Confidence = clamp01(novelty * feasibility)
	result.ProcessingTime = time.Since(start)
	progress(1, nil)
	return result, nil
}

// criticalStream surfaces assumptions, counter-arguments, and risks.
// Confidence rises with the breadth of challenges considered.
type criticalStream struct{}

func (s *criticalStream) Type() domain.StreamType { return domain.StreamCritical }

func (s *criticalStream) Execute(ctx context.Context, problem *domain.ReasoningProblem, progress ProgressFunc) (*domain.StreamResult, error) {
	start := time.Now()
	id := newStreamID(s.Type())
	result := &domain.StreamResult{
		StreamID:   id,
		StreamType: s.Type(),
		Status:     domain.StreamCompleted,
	}

	challenges := []string{
		fmt.Sprintf("Assumption check: the problem statement %q presumes the current approach is viable", problem.Description),
		"Counter-argument: the simplest explanation for the observed difficulty may be a missing prerequisite",
		"Risk: committing early to one framing forecloses cheaper alternatives",
	}
	for _, c := range problem.Constraints {
		challenges = append(challenges, fmt.Sprintf("Risk: constraint %q may be infeasible under load", c))
	}

	result.Reasoning = append(result.Reasoning, "Enumerated assumptions embedded in the problem statement")
	progress(0.25, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	for i, c := range challenges {
		in := domain.Insight{
			Content:    c,
			Confidence: clamp01(0.55 + 0.05*float64(i)),
			Importance: clamp01(0.6 + 0.05*float64(i)),
			Sources:    []string{id},
		}
		result.Insights = append(result.Insights, in)
	}
	result.Reasoning = append(result.Reasoning, fmt.Sprintf("Considered %d challenges", len(challenges)))
	progress(0.5, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	progress(0.75, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	result.Conclusion = fmt.Sprintf(
		"The proposal survives %d challenges but remains sensitive to its weakest assumption; validate that before proceeding",
		len(challenges))
	result.Confidence = clamp01(0.4 + 0.06*float64(len(challenges)))
	result.ProcessingTime = time.Since(start)
	progress(1, nil)
	return result, nil
}

// syntheticStream integrates insights other streams have published. With an
// empty board it proposes a unifying frame instead.
type syntheticStream struct {
	board *InsightBoard
}

func (s *syntheticStream) Type() domain.StreamType { return domain.StreamSynthetic }

func (s *syntheticStream) Execute(ctx context.Context, problem *domain.ReasoningProblem, progress ProgressFunc) (*domain.StreamResult, error) {
	start := time.Now()
	id := newStreamID(s.Type())
	result := &domain.StreamResult{
		StreamID:   id,
		StreamType: s.Type(),
		Status:     domain.StreamCompleted,
	}

	progress(0.25, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	var published []domain.Insight
	if s.board != nil {
		published = s.board.Snapshot()
	}
	progress(0.5, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	if len(published) > 0 {
		var sum float64
		for _, in := range published {
			sum += in.Confidence
		}
		avg := sum / float64(len(published))
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("Integrated %d insights published by peer streams", len(published)))
		in := domain.Insight{
			Content:    fmt.Sprintf("Across %d peer insights, the common thread is sequencing: resolve prerequisites before optimizing", len(published)),
			Confidence: clamp01(avg + 0.05),
			Importance: 0.8,
			Sources:    []string{id},
		}
		result.Insights = append(result.Insights, in)
		result.Conclusion = "Integrated view: the streams converge on validating prerequisites first, then iterating on the strongest framing"
		result.Confidence = clamp01(avg + 0.1)
	} else {
		result.Reasoning = append(result.Reasoning, "No peer insights available, proposing a unifying frame")
		in := domain.Insight{
			Content:    fmt.Sprintf("Unifying frame: treat %q as stages with explicit success criteria per stage", problem.Description),
			Confidence: 0.55,
			Importance: 0.7,
			Sources:    []string{id},
		}
		result.Insights = append(result.Insights, in)
		result.Conclusion = "A staged decomposition with per-stage success criteria unifies the problem"
		result.Confidence = 0.55
	}

	progress(0.75, nil)
	if err := checkCtx(ctx); err != nil {
		return result, err
	}

	result.ProcessingTime = time.Since(start)
	progress(1, nil)
	return result, nil
}
