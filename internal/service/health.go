package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultQuotaBytes = int64(1) << 30

	// Estimated per-memory consolidation cost, used for queue sizing.
	queueEstimateMsPerMemory = 100
)

// Health error taxonomy. Store failures surface as one of these so callers
// can distinguish a missing schema from a dead connection.
var (
	ErrSchemaNotInitialized = errors.New("schema not initialized")
	ErrSchemaOutdated       = errors.New("schema outdated")
	ErrConnection           = errors.New("database connection error")
	ErrGetHealth            = errors.New("health collection failed")
)

type StorageMetrics struct {
	BytesUsed    int64   `json:"bytes_used"`
	QuotaBytes   int64   `json:"quota_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

type ConsolidationQueue struct {
	Count           int   `json:"count"`
	EstimatedTimeMs int64 `json:"estimated_time_ms"`
}

type ActiveConsolidation struct {
	IsRunning bool                   `json:"is_running"`
	Progress  *ConsolidationProgress `json:"progress,omitempty"`
}

type HealthRecommendation struct {
	Action      string `json:"action"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

type HealthReport struct {
	UserID              string                  `json:"user_id"`
	Storage             StorageMetrics          `json:"storage"`
	Sectors             map[domain.Sector]int   `json:"sectors"`
	Ages                domain.AgeBuckets       `json:"ages"`
	Forgetting          domain.ForgettingCounts `json:"forgetting"`
	ConsolidationQueue  ConsolidationQueue      `json:"consolidation_queue"`
	ActiveConsolidation ActiveConsolidation     `json:"active_consolidation"`
	Recommendations     []HealthRecommendation  `json:"recommendations"`
	GeneratedAt         time.Time               `json:"generated_at"`
}

// ConsolidationMonitor is the scheduler surface health reads from.
type ConsolidationMonitor interface {
	Status() SchedulerStatus
}

// HealthService aggregates per-user storage, counts, forgetting candidates,
// queue depth, and live consolidation progress into a single report.
type HealthService struct {
	memoryStore domain.MemoryStore
	monitor     ConsolidationMonitor
	quotaBytes  int64
	logger      *zap.Logger

	now func() time.Time
}

func NewHealthService(ms domain.MemoryStore, monitor ConsolidationMonitor, quotaBytes int64, logger *zap.Logger) *HealthService {
	if quotaBytes <= 0 {
		quotaBytes = DefaultQuotaBytes
	}
	return &HealthService{
		memoryStore: ms,
		monitor:     monitor,
		quotaBytes:  quotaBytes,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *HealthService) SetClock(now func() time.Time) {
	s.now = now
}

// GetHealth fans out the metric queries in parallel and assembles the report.
// Any store failure aborts the report with a classified error.
func (s *HealthService) GetHealth(ctx context.Context, userID string) (*HealthReport, error) {
	now := s.now()
	report := &HealthReport{
		UserID:      userID,
		GeneratedAt: now,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bytes, err := s.memoryStore.StorageBytes(gctx, userID)
		if err != nil {
			return fmt.Errorf("storage metrics: %w", classifyHealthError(err))
		}
		report.Storage = storageMetrics(bytes, s.quotaBytes)
		return nil
	})
	g.Go(func() error {
		sectors, err := s.memoryStore.CountBySector(gctx, userID)
		if err != nil {
			return fmt.Errorf("sector counts: %w", classifyHealthError(err))
		}
		report.Sectors = sectors
		return nil
	})
	g.Go(func() error {
		ages, err := s.memoryStore.CountByAge(gctx, userID, now)
		if err != nil {
			return fmt.Errorf("age buckets: %w", classifyHealthError(err))
		}
		report.Ages = *ages
		return nil
	})
	g.Go(func() error {
		forgetting, err := s.memoryStore.ForgettingCandidates(gctx, userID, now)
		if err != nil {
			return fmt.Errorf("forgetting candidates: %w", classifyHealthError(err))
		}
		report.Forgetting = *forgetting
		return nil
	})
	g.Go(func() error {
		count, err := s.memoryStore.CountEpisodicUnconsolidated(gctx, userID)
		if err != nil {
			return fmt.Errorf("consolidation queue: %w", classifyHealthError(err))
		}
		report.ConsolidationQueue = ConsolidationQueue{
			Count:           count,
			EstimatedTimeMs: int64(count) * queueEstimateMsPerMemory,
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.ActiveConsolidation = s.activeConsolidation()
	report.Recommendations = buildRecommendations(report)
	return report, nil
}

func (s *HealthService) activeConsolidation() ActiveConsolidation {
	if s.monitor == nil {
		return ActiveConsolidation{}
	}
	st := s.monitor.Status()
	if !st.Running || st.Progress == nil {
		return ActiveConsolidation{}
	}
	return ActiveConsolidation{IsRunning: true, Progress: st.Progress}
}

func storageMetrics(bytesUsed, quota int64) StorageMetrics {
	pct := 100 * float64(bytesUsed) / float64(quota)
	if pct > 100 {
		pct = 100
	}
	return StorageMetrics{
		BytesUsed:    bytesUsed,
		QuotaBytes:   quota,
		UsagePercent: math.Round(pct*100) / 100,
	}
}

// buildRecommendations applies the fixed rule set over the collected metrics.
func buildRecommendations(r *HealthReport) []HealthRecommendation {
	recs := []HealthRecommendation{}

	if r.Storage.UsagePercent >= 80 {
		priority := "medium"
		if r.Storage.UsagePercent >= 90 {
			priority = "high"
		}
		recs = append(recs, HealthRecommendation{
			Action:      "optimization",
			Priority:    priority,
			Description: fmt.Sprintf("storage usage at %.2f%% of quota", r.Storage.UsagePercent),
		})
	}

	if r.Forgetting.Total > 100 {
		priority := "medium"
		if r.Forgetting.Total > 500 {
			priority = "high"
		}
		recs = append(recs, HealthRecommendation{
			Action:      "pruning",
			Priority:    priority,
			Description: fmt.Sprintf("%d memories are forgetting candidates", r.Forgetting.Total),
		})
	}

	if r.Ages.Older > 100 {
		priority := "low"
		if r.Ages.Older > 500 {
			priority = "medium"
		}
		recs = append(recs, HealthRecommendation{
			Action:      "archiving",
			Priority:    priority,
			Description: fmt.Sprintf("%d memories are older than a month", r.Ages.Older),
		})
	}

	if episodic := r.Sectors[domain.SectorEpisodic]; episodic > 50 {
		priority := "low"
		if episodic > 200 {
			priority = "medium"
		}
		recs = append(recs, HealthRecommendation{
			Action:      "consolidation",
			Priority:    priority,
			Description: fmt.Sprintf("%d episodic memories could be consolidated", episodic),
		})
	}

	return recs
}

// classifyHealthError maps store failures onto the health error taxonomy.
func classifyHealthError(err error) error {
	switch {
	case errors.Is(err, store.ErrSchemaNotInitialized):
		return fmt.Errorf("%w: %v", ErrSchemaNotInitialized, err)
	case errors.Is(err, store.ErrSchemaOutdated):
		return fmt.Errorf("%w: %v", ErrSchemaOutdated, err)
	case errors.Is(err, store.ErrConnection):
		return fmt.Errorf("%w: %v", ErrConnection, err)
	default:
		return fmt.Errorf("%w: %v", ErrGetHealth, err)
	}
}
