package reasoning

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// antonymCue is a lexical opposite pair that signals a direct contradiction
// when one claim carries the positive form and the other the negative.
type antonymCue struct {
	positive string
	negative string
	hint     domain.ConflictType
}

var antonymCues = []antonymCue{
	{"safe", "unsafe", domain.ConflictFactual},
	{"secure", "insecure", domain.ConflictFactual},
	{"correct", "incorrect", domain.ConflictFactual},
	{"possible", "impossible", domain.ConflictFactual},
	{"feasible", "infeasible", domain.ConflictFactual},
	{"will", "won't", domain.ConflictPredictive},
	{"will", "will not", domain.ConflictPredictive},
	{"should", "shouldn't", domain.ConflictEvaluative},
	{"should", "should not", domain.ConflictEvaluative},
}

var (
	methodWords     = []string{"approach", "method", "process", "technique", "procedure"}
	evaluativeWords = []string{"should", "prefer", "better", "priorit", "value", "over"}
	predictiveWords = []string{"will", "forecast", "future", "expect", "predict", "outcome"}
	deductionWords  = []string{"therefore", "implies", "entails", "thus", "follows"}
)

// ConflictPattern is the rolling record kept per conflict type.
type ConflictPattern struct {
	Type              domain.ConflictType `json:"type"`
	Frequency         int                 `json:"frequency"`
	CommonSources     []string            `json:"common_sources"`
	ResolutionSuccess float64             `json:"resolution_success"`
	resolvedCount     int
}

// ConflictEngine detects, classifies, and scores contradictions between
// stream outputs, and tracks recurring patterns across runs.
type ConflictEngine struct {
	logger *zap.Logger

	mu       sync.Mutex
	patterns map[domain.ConflictType]*ConflictPattern

	now func() time.Time
}

func NewConflictEngine(logger *zap.Logger) *ConflictEngine {
	return &ConflictEngine{
		logger:   logger,
		patterns: make(map[domain.ConflictType]*ConflictPattern),
		now:      time.Now,
	}
}

func (e *ConflictEngine) SetClock(now func() time.Time) {
	e.now = now
}

// DetectConflicts compares every unordered pair of stream results at the
// conclusion and insight level. Empty, singleton, or malformed input yields
// an empty slice, never a panic.
func (e *ConflictEngine) DetectConflicts(results []domain.StreamResult) []domain.Conflict {
	conflicts := []domain.Conflict{}
	if len(results) < 2 {
		return conflicts
	}

	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			a, b := &results[i], &results[j]
			if c := e.compareResults(a, b); c != nil {
				conflicts = append(conflicts, *c)
			}
		}
	}
	return conflicts
}

func (e *ConflictEngine) compareResults(a, b *domain.StreamResult) *domain.Conflict {
	type claim struct {
		text       string
		confidence float64
	}
	claimsOf := func(r *domain.StreamResult) []claim {
		var out []claim
		if r.Conclusion != "" {
			out = append(out, claim{r.Conclusion, r.Confidence})
		}
		for _, in := range r.Insights {
			if in.Content != "" {
				out = append(out, claim{in.Content, in.Confidence})
			}
		}
		return out
	}

	for _, ca := range claimsOf(a) {
		for _, cb := range claimsOf(b) {
			contradicts, direct, hint := detectContradiction(ca.text, cb.text)
			if !contradicts {
				continue
			}
			ctype := hint
			if ctype == "" {
				ctype = e.ClassifyConflict(ca.text, cb.text)
			}
			conflict := &domain.Conflict{
				ID:            uuid.New(),
				Type:          ctype,
				SourceStreams: []string{string(a.StreamType), string(b.StreamType)},
				Description:   fmt.Sprintf("%s and %s streams disagree: %q vs %q", a.StreamType, b.StreamType, ca.text, cb.text),
				Evidence: []domain.ConflictEvidence{
					{Stream: string(a.StreamType), Claim: ca.text, Confidence: ca.confidence},
					{Stream: string(b.StreamType), Claim: cb.text, Confidence: cb.confidence},
				},
				DetectedAt: e.now(),
			}
			conflict.Severity = e.AssessSeverity(conflict, direct)
			return conflict
		}
	}
	return nil
}

// lexicallyContradicts reports whether two claims carry opposite forms of a
// known antonym cue.
func lexicallyContradicts(a, b string) bool {
	contradicts, _, _ := detectContradiction(a, b)
	return contradicts
}

func detectContradiction(a, b string) (contradicts, direct bool, hint domain.ConflictType) {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	for _, cue := range antonymCues {
		if containsWord(al, cue.positive) && containsWord(bl, cue.negative) && !containsWord(al, cue.negative) {
			return true, true, cue.hint
		}
		if containsWord(bl, cue.positive) && containsWord(al, cue.negative) && !containsWord(bl, cue.negative) {
			return true, true, cue.hint
		}
	}
	// "not X" vs "X" on a shared subject.
	if negated(al, bl) || negated(bl, al) {
		return true, false, ""
	}
	return false, false, ""
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// negated reports whether a asserts "not P" for some phrase P that b asserts
// positively.
func negated(a, b string) bool {
	for _, marker := range []string{"not ", "never ", "cannot "} {
		idx := strings.Index(a, marker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(a[idx+len(marker):])
		words := strings.Fields(rest)
		if len(words) == 0 {
			continue
		}
		phrase := words[0]
		if len(words) > 1 {
			phrase = words[0] + " " + words[1]
		}
		if len(phrase) >= 4 && strings.Contains(b, phrase) && !strings.Contains(b, marker+phrase) {
			return true
		}
	}
	return false
}

// ClassifyConflict assigns exactly one type per the rubric: direct factual
// disagreement first, then method, value, and prediction cues, defaulting to
// a logical contradiction.
func (e *ConflictEngine) ClassifyConflict(a, b string) domain.ConflictType {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	both := func(words []string) bool {
		return containsAny(al, words) && containsAny(bl, words)
	}

	if _, direct, hint := detectContradiction(a, b); direct && hint != "" {
		return hint
	}
	if both(methodWords) {
		return domain.ConflictMethodological
	}
	if both(evaluativeWords) {
		return domain.ConflictEvaluative
	}
	if both(predictiveWords) {
		return domain.ConflictPredictive
	}
	if containsAny(al, deductionWords) || containsAny(bl, deductionWords) {
		return domain.ConflictLogical
	}
	if hasNumber(al) && hasNumber(bl) {
		return domain.ConflictFactual
	}
	return domain.ConflictLogical
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func hasNumber(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// Baseline severity ordering: Factual > Logical >= Predictive > Evaluative >=
// Methodological.
func baselineRank(t domain.ConflictType) int {
	switch t {
	case domain.ConflictFactual:
		return 4
	case domain.ConflictLogical, domain.ConflictPredictive:
		return 3
	default:
		return 2
	}
}

// AssessSeverity scores a conflict from its type baseline and the mean
// confidence of its evidence. A direct lexical contradiction never lands
// below Medium.
func (e *ConflictEngine) AssessSeverity(c *domain.Conflict, direct bool) domain.ConflictSeverity {
	if c == nil {
		return domain.SeverityLow
	}

	var mean float64
	if len(c.Evidence) > 0 {
		var sum float64
		for _, ev := range c.Evidence {
			sum += ev.Confidence
		}
		mean = sum / float64(len(c.Evidence))
	}

	var severity domain.ConflictSeverity
	switch {
	case mean >= 0.9:
		if baselineRank(c.Type) >= baselineRank(domain.ConflictFactual) {
			severity = domain.SeverityCritical
		} else {
			severity = domain.SeverityHigh
		}
	case mean >= 0.8:
		severity = domain.SeverityHigh
	case mean >= 0.6:
		severity = domain.SeverityMedium
	default:
		severity = domain.SeverityLow
	}

	if direct && domain.SeverityRank(severity) < domain.SeverityRank(domain.SeverityMedium) {
		severity = domain.SeverityMedium
	}
	return severity
}

// GenerateResolutionFramework proposes a resolution approach keyed to the
// conflict type, with urgency language scaled to severity.
func (e *ConflictEngine) GenerateResolutionFramework(c *domain.Conflict) *domain.ResolutionFramework {
	if c == nil {
		return nil
	}

	var approach string
	switch c.Type {
	case domain.ConflictLogical:
		approach = "Trace the logical derivation of each claim to locate the divergent inference"
	case domain.ConflictMethodological:
		approach = "Compare each method against the problem constraints and pilot the strongest candidate"
	case domain.ConflictEvaluative:
		approach = "Make the value trade-offs explicit and rank them against the stated goals"
	case domain.ConflictPredictive:
		approach = "Identify the assumptions behind each prediction and test them against available signals"
	default:
		approach = "Systematic analysis and evidence-based resolution"
	}

	steps := []string{
		"Restate each stream's claim in neutral terms",
		"List the evidence supporting each side with its confidence",
		"Identify the minimal disagreement that separates the claims",
		"Gather or weigh evidence that discriminates between them",
	}
	considerations := []string{
		fmt.Sprintf("Evidence confidence spread across %d items", len(c.Evidence)),
		fmt.Sprintf("Source streams involved: %s", strings.Join(c.SourceStreams, ", ")),
	}

	var action string
	if c.Severity == domain.SeverityCritical {
		action = "Resolve this contradiction immediately before acting on either conclusion"
	} else {
		action = "Weigh the higher-confidence claim more heavily and note the disagreement in the final output"
	}

	return &domain.ResolutionFramework{
		Approach:          approach,
		Steps:             steps,
		Considerations:    considerations,
		RecommendedAction: action,
	}
}

// TrackConflictPattern folds a conflict into the per-type rolling pattern:
// frequency, intersection of source streams, and resolution success rate.
func (e *ConflictEngine) TrackConflictPattern(c *domain.Conflict, resolved bool) {
	if c == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.patterns[c.Type]
	if !ok {
		p = &ConflictPattern{
			Type:          c.Type,
			CommonSources: append([]string(nil), c.SourceStreams...),
		}
		e.patterns[c.Type] = p
	} else {
		p.CommonSources = intersectStrings(p.CommonSources, c.SourceStreams)
	}

	p.Frequency++
	if resolved {
		p.resolvedCount++
	}
	p.ResolutionSuccess = float64(p.resolvedCount) / float64(p.Frequency)
}

// Patterns returns a snapshot of the tracked conflict patterns.
func (e *ConflictEngine) Patterns() []ConflictPattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ConflictPattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		cp := *p
		cp.CommonSources = append([]string(nil), p.CommonSources...)
		out = append(out, cp)
	}
	return out
}

func intersectStrings(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	for _, s := range a {
		if inB[s] {
			out = append(out, s)
		}
	}
	return out
}
