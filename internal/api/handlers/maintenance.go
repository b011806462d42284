package handlers

import (
	"net/http"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/service"
	"github.com/google/uuid"
)

// MaintenanceHandler exposes the lifecycle operations: decay sweeps, pruning,
// consolidation, and the decay parameter surface.
type MaintenanceHandler struct {
	decay        *service.DecayService
	pruning      *service.PruningService
	scheduler    *service.Scheduler
	sectorConfig *service.SectorConfig
}

func NewMaintenanceHandler(
	decay *service.DecayService,
	pruning *service.PruningService,
	scheduler *service.Scheduler,
	sectorConfig *service.SectorConfig,
) *MaintenanceHandler {
	return &MaintenanceHandler{
		decay:        decay,
		pruning:      pruning,
		scheduler:    scheduler,
		sectorConfig: sectorConfig,
	}
}

type maintenanceRequest struct {
	UserID string `json:"userId"`
	Prune  bool   `json:"prune,omitempty"`
}

func (h *MaintenanceHandler) TriggerDecay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req maintenanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId is required")
		return
	}

	result, err := h.decay.RunMaintenance(r.Context(), req.UserID, service.MaintenanceOptions{Prune: req.Prune})
	if err != nil {
		writeServiceError(w, err, "maintenance run failed")
		return
	}

	writeData(w, r, http.StatusOK, result, start)
}

type pruneCriteriaRequest struct {
	UserID         string   `json:"userId"`
	MinStrength    *float64 `json:"minStrength,omitempty"`
	MaxAgeDays     *float64 `json:"maxAgeDays,omitempty"`
	MinAccessCount *int     `json:"minAccessCount,omitempty"`
}

func (r pruneCriteriaRequest) criteria() domain.PruneCriteria {
	c := domain.DefaultPruneCriteria()
	if r.MinStrength != nil {
		c.MinStrength = *r.MinStrength
	}
	if r.MaxAgeDays != nil {
		c.MaxAgeDays = *r.MaxAgeDays
	}
	if r.MinAccessCount != nil {
		c.MinAccessCount = *r.MinAccessCount
	}
	return c
}

func (h *MaintenanceHandler) ListPruneCandidates(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req pruneCriteriaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId is required")
		return
	}

	candidates, err := h.pruning.ListCandidates(r.Context(), req.UserID, req.criteria())
	if err != nil {
		writeServiceError(w, err, "failed to list prune candidates")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"candidates": candidates,
		"count":      len(candidates),
	}, start)
}

type pruneRequest struct {
	UserID    string   `json:"userId"`
	MemoryIDs []string `json:"memoryIds"`
	DryRun    bool     `json:"dryRun,omitempty"`
}

func (h *MaintenanceHandler) Prune(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req pruneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "userId is required")
		return
	}
	if len(req.MemoryIDs) == 0 {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "memoryIds is required")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.MemoryIDs))
	for _, s := range req.MemoryIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, codeValidation, "invalid memory id: "+s)
			return
		}
		ids = append(ids, id)
	}

	var stats *domain.PruneStats
	var err error
	if req.DryRun {
		stats, err = h.pruning.PreviewPruning(r.Context(), req.UserID, ids)
	} else {
		stats, err = h.pruning.Prune(r.Context(), req.UserID, ids)
	}
	if err != nil {
		writeServiceError(w, err, "pruning failed")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"stats":  stats,
		"dryRun": req.DryRun,
	}, start)
}

// TriggerConsolidation runs a manual consolidation pass. It bypasses the load
// gate but still refuses to overlap a run already in flight.
func (h *MaintenanceHandler) TriggerConsolidation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	result, err := h.scheduler.TriggerNow(r.Context())
	if err != nil {
		writeServiceError(w, err, "consolidation run failed")
		return
	}

	writeData(w, r, http.StatusOK, result, start)
}

func (h *MaintenanceHandler) ConsolidationStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	writeData(w, r, http.StatusOK, h.scheduler.Status(), start)
}

type batchSizeRequest struct {
	BatchSize int `json:"batchSize"`
}

func (h *MaintenanceHandler) SetBatchSize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req batchSizeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.scheduler.SetBatchSize(req.BatchSize); err != nil {
		writeServiceError(w, err, "failed to set batch size")
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{"batchSize": req.BatchSize}, start)
}

func (h *MaintenanceHandler) GetDecayConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	writeData(w, r, http.StatusOK, h.sectorConfig.Get(), start)
}

func (h *MaintenanceHandler) UpdateDecayConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var patch service.DecayConfigPatch
	if !decodeBody(w, r, &patch) {
		return
	}

	if err := h.sectorConfig.Update(patch); err != nil {
		writeServiceError(w, err, "failed to update decay config")
		return
	}

	writeData(w, r, http.StatusOK, h.sectorConfig.Get(), start)
}

func (h *MaintenanceHandler) ResetDecayConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.sectorConfig.ResetToDefaults()
	writeData(w, r, http.StatusOK, h.sectorConfig.Get(), start)
}
