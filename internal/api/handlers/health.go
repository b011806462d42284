package handlers

import (
	"net/http"
	"time"

	"github.com/cortexmem/cortex/internal/service"
)

type HealthHandler struct {
	svc *service.HealthService
}

func NewHealthHandler(svc *service.HealthService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// GetMemoryHealth assembles the per-user health report: storage usage, sector
// and age distributions, forgetting candidates, queue depth, live
// consolidation progress, and recommendations.
func (h *HealthHandler) GetMemoryHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId parameter is required")
		return
	}

	report, err := h.svc.GetHealth(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to collect memory health")
		return
	}

	writeData(w, r, http.StatusOK, report, start)
}
