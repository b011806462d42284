package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ArchiveConfig struct {
	AgeThresholdDays int  `json:"age_threshold_days"`
	RetainEmbeddings bool `json:"retain_embeddings"`
}

// ArchiveService moves cold memories between the active and archive tables.
// Archived memories restore transparently on first read through the regular
// retrieve path.
type ArchiveService struct {
	archiveStore domain.ArchiveStore
	logger       *zap.Logger

	now func() time.Time
}

func NewArchiveService(as domain.ArchiveStore, logger *zap.Logger) *ArchiveService {
	return &ArchiveService{
		archiveStore: as,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *ArchiveService) SetClock(now func() time.Time) {
	s.now = now
}

// ArchiveMemories moves the given ids from active to archive.
func (s *ArchiveService) ArchiveMemories(ctx context.Context, userID string, ids []uuid.UUID, cfg ArchiveConfig) (*domain.ArchiveResult, error) {
	if len(ids) == 0 {
		return &domain.ArchiveResult{Timestamp: s.now()}, nil
	}

	result, err := s.archiveStore.ArchiveMemories(ctx, userID, ids, cfg.RetainEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("archive memories: %w", err)
	}

	s.logger.Info("archived memories",
		zap.String("user_id", userID),
		zap.Int("count", result.ArchivedCount),
		zap.Int64("freed_bytes", result.FreedBytes))
	return result, nil
}

// ArchiveOld moves everything older than the configured age threshold.
func (s *ArchiveService) ArchiveOld(ctx context.Context, userID string, cfg ArchiveConfig) (*domain.ArchiveResult, error) {
	if cfg.AgeThresholdDays < 1 {
		return nil, fmt.Errorf("%w: age threshold must be >= 1 day", ErrInvalidArgument)
	}

	cutoff := s.now().Add(-time.Duration(cfg.AgeThresholdDays) * 24 * time.Hour)
	result, err := s.archiveStore.ArchiveOlderThan(ctx, userID, cutoff, cfg.RetainEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("archive old memories: %w", err)
	}

	s.logger.Info("archived old memories",
		zap.String("user_id", userID),
		zap.Int("count", result.ArchivedCount),
		zap.Int("age_threshold_days", cfg.AgeThresholdDays))
	return result, nil
}

// SearchArchive searches archived content. Hits carry is_archived=true.
func (s *ArchiveService) SearchArchive(ctx context.Context, userID, query string) ([]domain.ArchivedMemory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}
	hits, err := s.archiveStore.SearchArchive(ctx, userID, query)
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	return hits, nil
}

// Restore re-materializes an archived memory as an active one.
func (s *ArchiveService) Restore(ctx context.Context, userID string, id uuid.UUID) (*domain.RestoreResult, error) {
	m, err := s.archiveStore.Restore(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("restored memory from archive",
		zap.String("user_id", userID),
		zap.String("memory_id", m.ID.String()))
	return &domain.RestoreResult{RestoredCount: 1, MemoryID: m.ID, Timestamp: s.now()}, nil
}

// GetArchiveStats returns the archive count and bytes used for a user.
func (s *ArchiveService) GetArchiveStats(ctx context.Context, userID string) (*domain.ArchiveUsage, error) {
	usage, err := s.archiveStore.Usage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("archive stats: %w", err)
	}
	return usage, nil
}
