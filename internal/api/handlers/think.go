package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/reasoning"
	"github.com/cortexmem/cortex/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Thinking modes and their stream sets.
var modeStreams = map[string][]domain.StreamType{
	"intuitive":    {domain.StreamCreative, domain.StreamSynthetic},
	"deliberative": {domain.StreamAnalytical, domain.StreamCritical},
	"balanced":     {domain.StreamAnalytical, domain.StreamCreative, domain.StreamCritical, domain.StreamSynthetic},
	"creative":     {domain.StreamCreative, domain.StreamSynthetic},
	"analytical":   {domain.StreamAnalytical, domain.StreamCritical},
}

const defaultThinkMode = "balanced"

// ThinkHandler is the high-level reasoning facade: it augments the problem
// with recalled memories, runs the mode's stream set, and degrades to a
// rule-based answer when reasoning cannot complete.
type ThinkHandler struct {
	coordinator *reasoning.Coordinator
	sessions    reasoning.SessionStore
	hub         *reasoning.SSEHub
	memory      *service.MemoryService
	timeout     time.Duration
	logger      *zap.Logger
}

func NewThinkHandler(
	coordinator *reasoning.Coordinator,
	sessions reasoning.SessionStore,
	hub *reasoning.SSEHub,
	memory *service.MemoryService,
	timeout time.Duration,
	logger *zap.Logger,
) *ThinkHandler {
	return &ThinkHandler{
		coordinator: coordinator,
		sessions:    sessions,
		hub:         hub,
		memory:      memory,
		timeout:     timeout,
		logger:      logger,
	}
}

type thinkRequest struct {
	Problem string `json:"problem"`
	Mode    string `json:"mode,omitempty"`
	Context string `json:"context,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

type thought struct {
	Stream     string  `json:"stream"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

type metacognitiveAssessment struct {
	OverallConfidence  float64  `json:"overallConfidence"`
	EvidenceQuality    float64  `json:"evidenceQuality"`
	ReasoningCoherence float64  `json:"reasoningCoherence"`
	Completeness       float64  `json:"completeness"`
	UncertaintyLevel   float64  `json:"uncertaintyLevel"`
	UncertaintyType    string   `json:"uncertaintyType"`
	Factors            []string `json:"factors"`
}

type thinkMeta struct {
	FallbackUsed bool   `json:"fallbackUsed"`
	Reason       string `json:"reason,omitempty"`
	Suggestion   string `json:"suggestion,omitempty"`
}

type thinkResponse struct {
	Thoughts                []thought               `json:"thoughts"`
	Confidence              float64                 `json:"confidence"`
	ModeUsed                string                  `json:"modeUsed"`
	ProcessingTimeMs        int64                   `json:"processingTimeMs"`
	MetacognitiveAssessment metacognitiveAssessment `json:"metacognitiveAssessment"`
	Conclusion              string                  `json:"conclusion"`
	Recommendations         []string                `json:"recommendations"`
	MemoriesUsed            int                     `json:"memoriesUsed,omitempty"`
	Meta                    *thinkMeta              `json:"_meta,omitempty"`
}

func (h *ThinkHandler) Think(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req thinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Problem == "" || len(req.Problem) > maxProblemLength {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "problem must be 1 to 10000 characters")
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = defaultThinkMode
	}
	types, ok := modeStreams[mode]
	if !ok {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "unknown mode "+mode)
		return
	}

	problem := &domain.ReasoningProblem{
		Description: req.Problem,
		Context:     req.Context,
	}

	// Memory augmentation: recalled content joins the problem context.
	memoriesUsed := 0
	if req.UserID != "" && h.memory != nil {
		if hits, err := h.memory.Recall(r.Context(), req.UserID, req.Problem, 5); err == nil && len(hits) > 0 {
			var sb strings.Builder
			sb.WriteString(problem.Context)
			for _, hit := range hits {
				sb.WriteString("\nRelevant memory: ")
				sb.WriteString(hit.Memory.Content)
			}
			problem.Context = sb.String()
			memoriesUsed = len(hits)
		}
	}

	session := h.sessions.Create(domain.SessionThink)

	result, err := runSession(r.Context(), h.coordinator, h.sessions, h.hub, session.ID, problem, types, h.timeout)
	if err != nil || result.AllStreamsFailed() {
		h.logger.Warn("think degraded to fallback",
			zap.String("session_id", session.ID),
			zap.String("mode", mode),
			zap.Error(err))
		writeData(w, r, http.StatusOK, h.fallbackResponse(mode, err, result, start), start)
		return
	}

	thoughts := make([]thought, 0, len(result.StreamResults))
	for _, sr := range result.StreamResults {
		if sr.Status != domain.StreamCompleted {
			continue
		}
		thoughts = append(thoughts, thought{
			Stream:     string(sr.StreamType),
			Content:    sr.Conclusion,
			Confidence: sr.Confidence,
		})
	}

	writeData(w, r, http.StatusOK, thinkResponse{
		Thoughts:                thoughts,
		Confidence:              result.Confidence,
		ModeUsed:                mode,
		ProcessingTimeMs:        time.Since(start).Milliseconds(),
		MetacognitiveAssessment: assess(result),
		Conclusion:              result.Conclusion,
		Recommendations:         recommendationContents(result.Recommendations),
		MemoriesUsed:            memoriesUsed,
	}, start)
}

func recommendationContents(recs []domain.Recommendation) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Content)
	}
	return out
}

// assess derives the metacognitive view from the synthesis quality metrics.
func assess(result *domain.SynthesizedResult) metacognitiveAssessment {
	evidence := 0.0
	for _, in := range result.Insights {
		evidence += in.Confidence
	}
	if len(result.Insights) > 0 {
		evidence /= float64(len(result.Insights))
	}

	uncertaintyType := "aleatoric"
	factors := []string{}
	switch {
	case len(result.Conflicts) > 0:
		uncertaintyType = "ambiguity"
		factors = append(factors, "conflicting stream conclusions")
	case len(result.Insights) < 3:
		uncertaintyType = "epistemic"
		factors = append(factors, "limited supporting evidence")
	default:
		factors = append(factors, "inherent variability in the problem domain")
	}

	return metacognitiveAssessment{
		OverallConfidence:  result.Confidence,
		EvidenceQuality:    evidence,
		ReasoningCoherence: result.Quality.Coherence,
		Completeness:       result.Quality.Completeness,
		UncertaintyLevel:   1 - result.Confidence,
		UncertaintyType:    uncertaintyType,
		Factors:            factors,
	}
}

// fallbackResponse is the rule-based degradation used when streams time out
// or all fail. Always 200; the _meta block marks it for the client.
func (h *ThinkHandler) fallbackResponse(mode string, cause error, result *domain.SynthesizedResult, start time.Time) thinkResponse {
	reason := "all reasoning streams failed"
	if errors.Is(cause, context.DeadlineExceeded) || anyStreamTimedOut(result) {
		reason = "LLM timeout"
	}

	recommendations := []string{
		"Break the problem into smaller, independently verifiable sub-questions",
		"Gather additional context or evidence before committing to a conclusion",
		"Retry the request; transient reasoning failures often resolve on a second attempt",
	}

	return thinkResponse{
		Thoughts:         []thought{},
		Confidence:       0.3,
		ModeUsed:         mode,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		MetacognitiveAssessment: metacognitiveAssessment{
			OverallConfidence: 0.3,
			UncertaintyLevel:  0.7,
			UncertaintyType:   "epistemic",
			Factors:           []string{"reasoning did not complete"},
		},
		Conclusion:      "Reasoning could not complete in time; the suggestions below are rule-based.",
		Recommendations: recommendations,
		Meta: &thinkMeta{
			FallbackUsed: true,
			Reason:       reason,
			Suggestion:   "Retry with a simpler problem statement or a longer timeout",
		},
	}
}

func anyStreamTimedOut(result *domain.SynthesizedResult) bool {
	if result == nil {
		return false
	}
	for _, sr := range result.StreamResults {
		if sr.Status == domain.StreamTimedOut {
			return true
		}
	}
	return false
}

// Status reports a think session's progress.
func (h *ThinkHandler) Status(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	sessionID := chi.URLParam(r, "sessionId")
	session, ok := h.sessions.Get(sessionID)
	if !ok {
		writeAPIError(w, http.StatusNotFound, codeNotFound, "unknown session id")
		return
	}

	data := map[string]any{
		"status":       string(session.Status),
		"progress":     session.Progress,
		"currentStage": session.Stage,
	}
	if len(session.ActiveStreams) > 0 {
		data["activeStreams"] = session.ActiveStreams
	}

	writeData(w, r, http.StatusOK, data, start)
}
