package handlers

import (
	"net/http"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/service"
	"github.com/google/uuid"
)

type ArchiveHandler struct {
	svc *service.ArchiveService
}

func NewArchiveHandler(svc *service.ArchiveService) *ArchiveHandler {
	return &ArchiveHandler{svc: svc}
}

type archiveRequest struct {
	UserID           string   `json:"userId"`
	MemoryIDs        []string `json:"memoryIds,omitempty"`
	AgeThresholdDays int      `json:"ageThresholdDays,omitempty"`
	RetainEmbeddings bool     `json:"retainEmbeddings,omitempty"`
}

// Archive moves memories to the archive, either an explicit id set or
// everything older than the age threshold.
func (h *ArchiveHandler) Archive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req archiveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId is required")
		return
	}

	cfg := service.ArchiveConfig{
		AgeThresholdDays: req.AgeThresholdDays,
		RetainEmbeddings: req.RetainEmbeddings,
	}

	var result *domain.ArchiveResult
	var err error
	if len(req.MemoryIDs) > 0 {
		ids := make([]uuid.UUID, 0, len(req.MemoryIDs))
		for _, s := range req.MemoryIDs {
			id, parseErr := uuid.Parse(s)
			if parseErr != nil {
				writeAPIError(w, http.StatusBadRequest, codeValidation, "invalid memory id: "+s)
				return
			}
			ids = append(ids, id)
		}
		result, err = h.svc.ArchiveMemories(r.Context(), req.UserID, ids, cfg)
	} else {
		result, err = h.svc.ArchiveOld(r.Context(), req.UserID, cfg)
	}
	if err != nil {
		writeServiceError(w, err, "failed to archive memories")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"archivedCount": result.ArchivedCount,
		"freedBytes":    result.FreedBytes,
		"timestamp":     result.Timestamp,
	}, start)
}

func (h *ArchiveHandler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID := r.URL.Query().Get("userId")
	query := r.URL.Query().Get("query")
	if userID == "" || query == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId and query parameters are required")
		return
	}

	hits, err := h.svc.SearchArchive(r.Context(), userID, query)
	if err != nil {
		writeServiceError(w, err, "failed to search archive")
		return
	}

	memories := make([]map[string]any, 0, len(hits))
	for _, m := range hits {
		memories = append(memories, map[string]any{
			"id":            m.ID,
			"content":       m.Content,
			"primarySector": m.PrimarySector,
			"strength":      m.Strength,
			"archivedAt":    m.ArchivedAt,
			"isArchived":    true,
		})
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"memories": memories,
		"count":    len(memories),
		"query":    query,
	}, start)
}

type restoreRequest struct {
	UserID   string `json:"userId"`
	MemoryID string `json:"memoryId"`
}

func (h *ArchiveHandler) Restore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req restoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId is required")
		return
	}

	id, err := uuid.Parse(req.MemoryID)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "invalid memoryId")
		return
	}

	result, err := h.svc.Restore(r.Context(), req.UserID, id)
	if err != nil {
		writeServiceError(w, err, "failed to restore memory")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"restoredCount": result.RestoredCount,
		"timestamp":     result.Timestamp,
		"memoryId":      result.MemoryID,
	}, start)
}

func (h *ArchiveHandler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId parameter is required")
		return
	}

	usage, err := h.svc.GetArchiveStats(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to get archive stats")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"count":     usage.Count,
		"bytesUsed": usage.BytesUsed,
	}, start)
}
