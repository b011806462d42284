package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/reasoning"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func newReasoningFixture() (*ReasoningHandler, *reasoning.MemorySessionStore) {
	logger := zap.NewNop()
	coordinator := reasoning.NewCoordinator(reasoning.NewSynthesizer(logger), reasoning.NewConflictEngine(logger), logger)
	sessions := reasoning.NewMemorySessionStore(time.Hour, logger)
	hub := reasoning.NewSSEHub(logger)
	return NewReasoningHandler(coordinator, sessions, hub, logger), sessions
}

func TestParallel_Sync(t *testing.T) {
	h, sessions := newReasoningFixture()

	rec := postJSON(t, h.Parallel, "/api/v1/reasoning/parallel", map[string]any{
		"problem": "Plan the migration to the new storage engine",
		"streams": []string{"analytical", "critical"},
		"timeout": 5000,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("success = false: %s", rec.Body.String())
	}

	var resp parallelResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("missing session id")
	}
	if len(resp.Streams) != 2 {
		t.Errorf("streams = %d, want 2", len(resp.Streams))
	}
	if resp.Synthesis == nil || resp.Synthesis.Conclusion == "" {
		t.Error("missing synthesis")
	}
	if resp.ConflictsResolved == nil {
		t.Error("conflictsResolved should be present, possibly empty")
	}

	session, ok := sessions.Get(resp.SessionID)
	if !ok {
		t.Fatal("session not retained after sync run")
	}
	if session.Status != domain.SessionComplete {
		t.Errorf("session status = %s, want complete", session.Status)
	}
	if session.Progress != 1 || session.CompletedAt == nil {
		t.Errorf("session progress = %v, completedAt = %v", session.Progress, session.CompletedAt)
	}
	if session.Result == nil {
		t.Error("session result not stored")
	}
}

func TestParallel_DeduplicatesStreams(t *testing.T) {
	h, _ := newReasoningFixture()

	rec := postJSON(t, h.Parallel, "/api/v1/reasoning/parallel", map[string]any{
		"problem": "x",
		"streams": []string{"creative", "creative", "synthetic"},
		"timeout": 5000,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp parallelResponse
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(resp.Streams) != 2 {
		t.Errorf("streams = %d, want duplicates collapsed to 2", len(resp.Streams))
	}
}

func TestParallel_Validation(t *testing.T) {
	h, _ := newReasoningFixture()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty problem", map[string]any{"problem": "", "streams": []string{"analytical"}}},
		{"no streams", map[string]any{"problem": "x"}},
		{"too many streams", map[string]any{"problem": "x", "streams": []string{"a", "b", "c", "d", "e"}}},
		{"unknown stream", map[string]any{"problem": "x", "streams": []string{"psychic"}}},
		{"timeout too small", map[string]any{"problem": "x", "streams": []string{"analytical"}, "timeout": 500}},
		{"timeout too large", map[string]any{"problem": "x", "streams": []string{"analytical"}, "timeout": 90000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.Parallel, "/api/v1/reasoning/parallel", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			env := decodeEnvelope(t, rec)
			if env.Error == nil || env.Error.Code != codeValidation {
				t.Errorf("error = %+v, want %s", env.Error, codeValidation)
			}
		})
	}
}

func TestParallel_Async(t *testing.T) {
	h, sessions := newReasoningFixture()

	rec := postJSON(t, h.Parallel, "/api/v1/reasoning/parallel", map[string]any{
		"problem": "x",
		"streams": []string{"analytical"},
		"timeout": 5000,
		"async":   true,
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	sessionID, _ := data["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("missing session id")
	}
	if data["status"] != string(domain.SessionProcessing) {
		t.Errorf("status = %v, want processing", data["status"])
	}

	// The detached run finishes on its own.
	deadline := time.Now().Add(3 * time.Second)
	for {
		session, ok := sessions.Get(sessionID)
		if !ok {
			t.Fatal("async session vanished")
		}
		if session.Status == domain.SessionComplete {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("async session stuck in %s", session.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChain(t *testing.T) {
	h, _ := newReasoningFixture()

	router := chi.NewRouter()
	router.Get("/api/v1/reasoning/chain/{sessionId}", h.Chain)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reasoning/chain/reasoning-0-000000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session = %d, want 404", rec.Code)
	}

	// Complete a run, then read its chain.
	rec = postJSON(t, h.Parallel, "/api/v1/reasoning/parallel", map[string]any{
		"problem": "Plan the rollout",
		"streams": []string{"analytical", "critical"},
		"timeout": 5000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("parallel status = %d", rec.Code)
	}
	var resp parallelResponse
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode data: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reasoning/chain/"+resp.SessionID, nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("chain status = %d", rec2.Code)
	}

	var chain struct {
		ChainID             string           `json:"chainId"`
		Status              string           `json:"status"`
		Steps               []map[string]any `json:"steps"`
		Branches            []map[string]any `json:"branches"`
		ConfidenceEvolution []float64        `json:"confidenceEvolution"`
	}
	env2 := decodeEnvelope(t, rec2)
	if err := json.Unmarshal(env2.Data, &chain); err != nil {
		t.Fatalf("decode chain: %v", err)
	}
	if chain.ChainID != resp.SessionID {
		t.Errorf("chainId = %q", chain.ChainID)
	}
	if chain.Status != string(domain.SessionComplete) {
		t.Errorf("status = %q", chain.Status)
	}
	if len(chain.Branches) != 2 {
		t.Errorf("branches = %d, want 2", len(chain.Branches))
	}
	if len(chain.Steps) == 0 {
		t.Error("no reasoning steps in chain")
	}
	// One confidence per stream plus the synthesis confidence.
	if len(chain.ConfidenceEvolution) != 3 {
		t.Errorf("confidenceEvolution = %d, want 3", len(chain.ConfidenceEvolution))
	}
}

func TestStreamSession_UnknownSession(t *testing.T) {
	h, _ := newReasoningFixture()

	router := chi.NewRouter()
	router.Get("/api/v1/reasoning/parallel/{sessionId}/stream", h.StreamSession)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reasoning/parallel/reasoning-0-000000/stream", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
