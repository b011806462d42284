package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type MemoryHandler struct {
	svc   *service.MemoryService
	decay *service.DecayService
}

func NewMemoryHandler(svc *service.MemoryService, decay *service.DecayService) *MemoryHandler {
	return &MemoryHandler{svc: svc, decay: decay}
}

type createMemoryRequest struct {
	UserID    string  `json:"userId"`
	SessionID string  `json:"sessionId,omitempty"`
	Content   string  `json:"content"`
	Sector    string  `json:"sector,omitempty"`
	Salience  float64 `json:"salience,omitempty"`
}

func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req createMemoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	memory, err := h.svc.Create(r.Context(), service.CreateMemoryInput{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Content:   req.Content,
		Sector:    req.Sector,
		Salience:  req.Salience,
	})
	if err != nil {
		writeServiceError(w, err, "failed to create memory")
		return
	}

	writeData(w, r, http.StatusCreated, memory, start)
}

func (h *MemoryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId parameter is required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "invalid memory id")
		return
	}

	memory, err := h.svc.Get(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err, "failed to get memory")
		return
	}

	writeData(w, r, http.StatusOK, memory, start)
}

func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId parameter is required")
		return
	}

	memories, err := h.svc.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to list memories")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"memories": memories,
		"count":    len(memories),
	}, start)
}

func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId parameter is required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "invalid memory id")
		return
	}

	if err := h.svc.Delete(r.Context(), userID, id); err != nil {
		writeServiceError(w, err, "failed to delete memory")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{"deleted": true, "memoryId": id}, start)
}

func (h *MemoryHandler) Recall(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID := r.URL.Query().Get("userId")
	query := r.URL.Query().Get("query")
	if userID == "" || query == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId and query parameters are required")
		return
	}

	topK := 0
	if s := r.URL.Query().Get("topK"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			topK = v
		}
	}

	results, err := h.svc.Recall(r.Context(), userID, query, topK)
	if err != nil {
		writeServiceError(w, err, "failed to recall memories")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"memories": results,
		"query":    query,
		"count":    len(results),
	}, start)
}

type reinforceRequest struct {
	MemoryID string   `json:"memoryId"`
	Type     string   `json:"type,omitempty"`
	Boost    *float64 `json:"boost,omitempty"`
}

func (h *MemoryHandler) Reinforce(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req reinforceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := uuid.Parse(req.MemoryID)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "invalid memoryId")
		return
	}

	typ := domain.ReinforcementType(req.Type)
	if req.Type == "" {
		typ = domain.ReinforceExplicit
	}

	strength, err := h.decay.ReinforceByType(r.Context(), id, typ, req.Boost)
	if err != nil {
		writeServiceError(w, err, "failed to reinforce memory")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"memoryId":    id,
		"newStrength": strength,
	}, start)
}
