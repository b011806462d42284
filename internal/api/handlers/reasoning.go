package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/reasoning"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	minReasoningTimeoutMs     = 1000
	maxReasoningTimeoutMs     = 60000
	defaultReasoningTimeoutMs = 30000
	maxProblemLength          = 10000
)

// ReasoningHandler drives multi-stream reasoning sessions: synchronous and
// asynchronous execution, SSE progress, and the reasoning chain view.
type ReasoningHandler struct {
	coordinator *reasoning.Coordinator
	sessions    reasoning.SessionStore
	hub         *reasoning.SSEHub
	logger      *zap.Logger
}

func NewReasoningHandler(coordinator *reasoning.Coordinator, sessions reasoning.SessionStore, hub *reasoning.SSEHub, logger *zap.Logger) *ReasoningHandler {
	return &ReasoningHandler{
		coordinator: coordinator,
		sessions:    sessions,
		hub:         hub,
		logger:      logger,
	}
}

type parallelRequest struct {
	Problem string   `json:"problem"`
	Streams []string `json:"streams"`
	UserID  string   `json:"userId,omitempty"`
	Context string   `json:"context,omitempty"`
	Timeout int      `json:"timeout,omitempty"`
	Async   bool     `json:"async,omitempty"`
}

// liveStreamKey is the SSE hub key for one stream's events within a session.
// Clients read it from the session's activeStreams list.
func liveStreamKey(sessionID string, stream string) string {
	return fmt.Sprintf("%s-%s", sessionID, stream)
}

// runSession executes the streams while mirroring progress into the session
// store and the SSE hub, then records the terminal session state.
func runSession(
	ctx context.Context,
	coordinator *reasoning.Coordinator,
	sessions reasoning.SessionStore,
	hub *reasoning.SSEHub,
	sessionID string,
	problem *domain.ReasoningProblem,
	types []domain.StreamType,
	timeout time.Duration,
) (*domain.SynthesizedResult, error) {
	onEvent := func(event string, data map[string]any) {
		hub.Broadcast(sessionID, event, data)
		if stream, ok := data["stream"].(string); ok {
			hub.Broadcast(liveStreamKey(sessionID, stream), event, data)
		}

		switch event {
		case reasoning.EventSyncCheckpoint:
			cp, _ := data["checkpoint"].(int)
			sessions.Update(sessionID, func(s *domain.Session) {
				s.Stage = "reasoning"
				s.Progress = float64(cp) / 100
				if s.SyncCheckpoints != nil {
					s.SyncCheckpoints[cp] = true
				}
			})
		case reasoning.EventSynthesisStarted:
			sessions.Update(sessionID, func(s *domain.Session) {
				s.Stage = "synthesis"
				s.Progress = 0.9
			})
		}
	}

	sessions.Update(sessionID, func(s *domain.Session) {
		s.Stage = "reasoning"
		s.ActiveStreams = types
	})

	result, err := coordinator.ExecuteStreams(ctx, problem, types, timeout, onEvent)

	now := time.Now()
	if err != nil {
		sessions.Update(sessionID, func(s *domain.Session) {
			s.Status = domain.SessionError
			s.Stage = "error"
			s.Error = err.Error()
			s.CompletedAt = &now
		})
		hub.CloseSession(sessionID, reasoning.EventSessionError, map[string]any{"error": err.Error()})
	} else {
		sessions.Update(sessionID, func(s *domain.Session) {
			s.Status = domain.SessionComplete
			s.Stage = "complete"
			s.Progress = 1
			s.CompletedAt = &now
			s.Result = result
		})
		hub.CloseSession(sessionID, reasoning.EventSessionCompleted, map[string]any{
			"confidence": result.Confidence,
			"conflicts":  len(result.Conflicts),
		})
	}
	for _, t := range types {
		hub.CloseSession(liveStreamKey(sessionID, string(t)), reasoning.EventStreamCompleted, nil)
	}

	return result, err
}

func parseStreamTypes(names []string) ([]domain.StreamType, error) {
	if len(names) == 0 || len(names) > 4 {
		return nil, fmt.Errorf("streams must name 1 to 4 stream types")
	}
	seen := make(map[domain.StreamType]bool, len(names))
	types := make([]domain.StreamType, 0, len(names))
	for _, name := range names {
		if !domain.ValidStreamType(name) {
			return nil, fmt.Errorf("unknown stream type %q", name)
		}
		t := domain.StreamType(name)
		if seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	return types, nil
}

type parallelResponse struct {
	SessionID         string                     `json:"sessionId"`
	Streams           []domain.StreamResult      `json:"streams"`
	Synthesis         *domain.SynthesizedResult  `json:"synthesis"`
	ConflictsResolved []domain.Conflict          `json:"conflictsResolved"`
	Coordination      coordinationMetricsPayload `json:"coordinationMetrics"`
}

type coordinationMetricsPayload struct {
	Sync25                int64   `json:"sync25"`
	Sync50                int64   `json:"sync50"`
	Sync75                int64   `json:"sync75"`
	TotalCoordinationTime int64   `json:"totalCoordinationTime"`
	OverheadPercentage    float64 `json:"overheadPercentage"`
}

func coordinationPayload(m domain.CoordinationMetrics) coordinationMetricsPayload {
	return coordinationMetricsPayload{
		Sync25:                m.Sync25.Milliseconds(),
		Sync50:                m.Sync50.Milliseconds(),
		Sync75:                m.Sync75.Milliseconds(),
		TotalCoordinationTime: m.TotalCoordinationTime.Milliseconds(),
		OverheadPercentage:    m.OverheadPercentage,
	}
}

func (h *ReasoningHandler) Parallel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req parallelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Problem == "" || len(req.Problem) > maxProblemLength {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "problem must be 1 to 10000 characters")
		return
	}
	types, err := parseStreamTypes(req.Streams)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	timeoutMs := req.Timeout
	if timeoutMs == 0 {
		timeoutMs = defaultReasoningTimeoutMs
	}
	if timeoutMs < minReasoningTimeoutMs || timeoutMs > maxReasoningTimeoutMs {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "timeout must be between 1000 and 60000 ms")
		return
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond

	problem := &domain.ReasoningProblem{
		Description: req.Problem,
		Context:     req.Context,
	}

	session := h.sessions.Create(domain.SessionParallel)

	if req.Async {
		go func() {
			// Detached from the request context: the caller has already been
			// answered with 202.
			if _, err := runSession(context.Background(), h.coordinator, h.sessions, h.hub, session.ID, problem, types, timeout); err != nil {
				h.logger.Warn("async reasoning session failed",
					zap.String("session_id", session.ID), zap.Error(err))
			}
		}()
		writeData(w, r, http.StatusAccepted, map[string]any{
			"sessionId": session.ID,
			"status":    string(domain.SessionProcessing),
		}, start)
		return
	}

	result, err := runSession(r.Context(), h.coordinator, h.sessions, h.hub, session.ID, problem, types, timeout)
	if err != nil {
		writeServiceError(w, err, "reasoning run failed")
		return
	}

	writeData(w, r, http.StatusOK, parallelResponse{
		SessionID:         session.ID,
		Streams:           result.StreamResults,
		Synthesis:         result,
		ConflictsResolved: result.Conflicts,
		Coordination:      coordinationPayload(result.Coordination),
	}, start)
}

// StreamSession serves SSE for a parallel reasoning session.
func (h *ReasoningHandler) StreamSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	session, ok := h.sessions.Get(sessionID)
	if !ok {
		writeAPIError(w, http.StatusNotFound, codeNotFound, "unknown session id")
		return
	}

	h.serveSSE(w, r, sessionID, map[string]any{
		"status":   string(session.Status),
		"progress": session.Progress,
		"stage":    session.Stage,
	})
}

// StreamLive serves SSE for a single stream within a session. The stream id
// is "<sessionId>-<streamType>", taken from the session's active streams.
func (h *ReasoningHandler) StreamLive(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamId")
	h.serveSSE(w, r, streamID, nil)
}

func (h *ReasoningHandler) serveSSE(w http.ResponseWriter, r *http.Request, key string, opening map[string]any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, codeInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := h.hub.Subscribe(key)
	defer h.hub.Unsubscribe(key, client)

	if opening != nil {
		h.hub.Broadcast(key, "session_status", opening)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-client.Events():
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Chain returns the reasoning chain view of a session. While the session is
// still processing the chain is minimal.
func (h *ReasoningHandler) Chain(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	sessionID := chi.URLParam(r, "sessionId")
	session, ok := h.sessions.Get(sessionID)
	if !ok {
		writeAPIError(w, http.StatusNotFound, codeNotFound, "unknown session id")
		return
	}

	steps := []map[string]any{}
	branches := []map[string]any{}
	confidenceEvolution := []float64{}
	decisionPoints := []map[string]any{}

	if session.Result != nil {
		for _, sr := range session.Result.StreamResults {
			branches = append(branches, map[string]any{
				"streamId":   sr.StreamID,
				"streamType": string(sr.StreamType),
				"status":     string(sr.Status),
			})
			for _, step := range sr.Reasoning {
				steps = append(steps, map[string]any{
					"stream":  string(sr.StreamType),
					"content": step,
				})
			}
			confidenceEvolution = append(confidenceEvolution, sr.Confidence)
		}
		confidenceEvolution = append(confidenceEvolution, session.Result.Confidence)
		for _, c := range session.Result.Conflicts {
			decisionPoints = append(decisionPoints, map[string]any{
				"type":        string(c.Type),
				"severity":    string(c.Severity),
				"description": c.Description,
				"resolved":    c.Resolution != nil,
			})
		}
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"chainId":             sessionID,
		"status":              string(session.Status),
		"steps":               steps,
		"branches":            branches,
		"confidenceEvolution": confidenceEvolution,
		"decisionPoints":      decisionPoints,
	}, start)
}
