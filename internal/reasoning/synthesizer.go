package reasoning

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cortexmem/cortex/internal/domain"
	"go.uber.org/zap"
)

// Synthesizer merges per-stream outputs into a single conclusion, insight
// list, and recommendation set, and scores the overall quality.
type Synthesizer struct {
	logger *zap.Logger
}

func NewSynthesizer(logger *zap.Logger) *Synthesizer {
	return &Synthesizer{logger: logger}
}

// Synthesize builds the combined result. Only completed streams contribute
// content; with zero completed streams the sentinel result (no insights, zero
// confidence) is returned so the caller can fall back.
func (s *Synthesizer) Synthesize(problem *domain.ReasoningProblem, results []domain.StreamResult, conflicts []domain.Conflict) *domain.SynthesizedResult {
	out := &domain.SynthesizedResult{
		Insights:        []domain.Insight{},
		Recommendations: []domain.Recommendation{},
		Conflicts:       conflicts,
		StreamResults:   results,
	}

	completed := make([]domain.StreamResult, 0, len(results))
	for _, r := range results {
		if r.Status == domain.StreamCompleted {
			completed = append(completed, r)
		}
	}
	if len(completed) == 0 {
		out.Conclusion = "All reasoning streams failed to produce output"
		return out
	}

	out.Conclusion = weightedConclusion(completed)
	out.Insights = mergeInsights(completed)
	out.Recommendations = deriveRecommendations(out.Insights)
	out.Confidence = combinedConfidence(completed, conflicts)
	out.Quality = scoreQuality(problem, out.Insights, conflicts)

	s.logger.Debug("synthesis complete",
		zap.Int("streams", len(completed)),
		zap.Int("insights", len(out.Insights)),
		zap.Int("recommendations", len(out.Recommendations)),
		zap.Float64("confidence", out.Confidence))
	return out
}

// weightedConclusion leads with the most confident stream's conclusion and
// folds the rest in by descending confidence.
func weightedConclusion(completed []domain.StreamResult) string {
	sorted := make([]domain.StreamResult, len(completed))
	copy(sorted, completed)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	var b strings.Builder
	b.WriteString(sorted[0].Conclusion)
	for _, r := range sorted[1:] {
		if r.Conclusion == "" {
			continue
		}
		fmt.Fprintf(&b, " The %s stream adds: %s", r.StreamType, lowerFirst(r.Conclusion))
	}
	return b.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// mergeInsights deduplicates by content; a duplicate keeps the highest
// confidence and the union of sources.
func mergeInsights(completed []domain.StreamResult) []domain.Insight {
	byContent := make(map[string]int)
	var merged []domain.Insight
	for _, r := range completed {
		for _, in := range r.Insights {
			key := strings.ToLower(strings.TrimSpace(in.Content))
			if idx, ok := byContent[key]; ok {
				existing := &merged[idx]
				if in.Confidence > existing.Confidence {
					existing.Confidence = in.Confidence
				}
				if in.Importance > existing.Importance {
					existing.Importance = in.Importance
				}
				existing.Sources = unionStrings(existing.Sources, in.Sources)
				continue
			}
			byContent[key] = len(merged)
			merged = append(merged, in)
		}
	}
	if merged == nil {
		merged = []domain.Insight{}
	}
	return merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// deriveRecommendations turns each insight into a recommendation with
// priority round(10 * importance) clamped to [1,10], sorted by priority then
// confidence, both descending.
func deriveRecommendations(insights []domain.Insight) []domain.Recommendation {
	recs := make([]domain.Recommendation, 0, len(insights))
	for _, in := range insights {
		priority := int(math.Round(10 * in.Importance))
		if priority < 1 {
			priority = 1
		}
		if priority > 10 {
			priority = 10
		}
		recs = append(recs, domain.Recommendation{
			Content:    in.Content,
			Priority:   priority,
			Confidence: in.Confidence,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].Confidence > recs[j].Confidence
	})
	return recs
}

// combinedConfidence averages stream confidences weighted by themselves, then
// reduces proportional to the number of unresolved High or Critical
// conflicts.
func combinedConfidence(completed []domain.StreamResult, conflicts []domain.Conflict) float64 {
	var weightedSum, weightTotal float64
	for _, r := range completed {
		weightedSum += r.Confidence * r.Confidence
		weightTotal += r.Confidence
	}
	if weightTotal == 0 {
		return 0
	}
	confidence := weightedSum / weightTotal

	severe := 0
	for _, c := range conflicts {
		if c.Resolution == nil && domain.SeverityRank(c.Severity) >= domain.SeverityRank(domain.SeverityHigh) {
			severe++
		}
	}
	if severe > 0 {
		confidence *= math.Max(0.1, 1-0.15*float64(severe))
	}
	return clamp01(confidence)
}

func scoreQuality(problem *domain.ReasoningProblem, insights []domain.Insight, conflicts []domain.Conflict) domain.QualityMetrics {
	q := domain.QualityMetrics{
		Coherence:    coherence(insights, conflicts),
		Completeness: completeness(problem, insights),
		Consistency:  consistency(insights),
	}
	q.OverallScore = (q.Coherence + q.Completeness + q.Consistency) / 3
	return q
}

// coherence is the inverse of the contradiction rate across insights.
func coherence(insights []domain.Insight, conflicts []domain.Conflict) float64 {
	if len(insights) == 0 {
		return 0
	}
	rate := float64(len(conflicts)) / float64(len(insights))
	return clamp01(1 - rate)
}

// completeness is the fraction of problem goals addressed by at least one
// insight. With no stated goals a non-empty insight set counts as complete.
func completeness(problem *domain.ReasoningProblem, insights []domain.Insight) float64 {
	if len(problem.Goals) == 0 {
		if len(insights) > 0 {
			return 1
		}
		return 0
	}
	addressed := 0
	for _, goal := range problem.Goals {
		gl := strings.ToLower(goal)
		for _, in := range insights {
			if strings.Contains(strings.ToLower(in.Content), gl) || sharesKeyword(gl, in.Content) {
				addressed++
				break
			}
		}
	}
	return float64(addressed) / float64(len(problem.Goals))
}

func sharesKeyword(goal, content string) bool {
	cl := strings.ToLower(content)
	for _, word := range strings.Fields(goal) {
		if len(word) >= 4 && strings.Contains(cl, word) {
			return true
		}
	}
	return false
}

// consistency is the fraction of insight pairs without a factual
// contradiction between them.
func consistency(insights []domain.Insight) float64 {
	if len(insights) < 2 {
		return 1
	}
	pairs, contradictions := 0, 0
	for i := 0; i < len(insights); i++ {
		for j := i + 1; j < len(insights); j++ {
			pairs++
			if lexicallyContradicts(insights[i].Content, insights[j].Content) {
				contradictions++
			}
		}
	}
	return 1 - float64(contradictions)/float64(pairs)
}
