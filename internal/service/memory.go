package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRecallTopK = 10

type CreateMemoryInput struct {
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
	Content   string  `json:"content"`
	Sector    string  `json:"sector"`
	Salience  float64 `json:"salience"`
}

// MemoryService is the front door for memory CRUD and recall. Reads pass
// through the archive transparently and reinforce what they touch.
type MemoryService struct {
	memoryStore     domain.MemoryStore
	embeddingStore  domain.EmbeddingStore
	archiveStore    domain.ArchiveStore
	embeddingClient domain.EmbeddingClient
	decay           *DecayService
	logger          *zap.Logger

	now func() time.Time
}

func NewMemoryService(
	ms domain.MemoryStore,
	es domain.EmbeddingStore,
	as domain.ArchiveStore,
	embeddingClient domain.EmbeddingClient,
	decay *DecayService,
	logger *zap.Logger,
) *MemoryService {
	return &MemoryService{
		memoryStore:     ms,
		embeddingStore:  es,
		archiveStore:    as,
		embeddingClient: embeddingClient,
		decay:           decay,
		logger:          logger,
		now:             time.Now,
	}
}

func (s *MemoryService) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a new memory at full strength and embeds it. An embedding
// failure does not fail the create; the memory is kept with a pending status
// and picked up later.
func (s *MemoryService) Create(ctx context.Context, in CreateMemoryInput) (*domain.Memory, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	sector := in.Sector
	if sector == "" {
		sector = string(domain.SectorEpisodic)
	}
	if !domain.ValidSector(sector) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSector, sector)
	}
	if in.Salience < 0 || in.Salience > 1 {
		return nil, fmt.Errorf("%w: salience must be in [0,1]", ErrInvalidArgument)
	}

	now := s.now()
	m := &domain.Memory{
		ID:              uuid.New(),
		UserID:          in.UserID,
		SessionID:       in.SessionID,
		Content:         in.Content,
		PrimarySector:   domain.Sector(sector),
		Salience:        in.Salience,
		Strength:        1,
		CreatedAt:       now,
		LastAccessedAt:  now,
		EmbeddingStatus: domain.EmbeddingPending,
	}

	var vec []float32
	if s.embeddingClient != nil {
		var err error
		vec, err = s.embeddingClient.Embed(ctx, in.Content)
		if err != nil {
			vec = nil
			m.EmbeddingStatus = domain.EmbeddingFailed
			s.logger.Warn("embedding generation failed",
				zap.String("user_id", in.UserID), zap.Error(err))
		} else {
			m.EmbeddingStatus = domain.EmbeddingComplete
		}
	}

	if err := s.memoryStore.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}
	if vec != nil {
		emb := &domain.Embedding{MemoryID: m.ID, Sector: domain.SectorSemantic, Dimension: len(vec), Vector: vec}
		if err := s.embeddingStore.Upsert(ctx, emb); err != nil {
			s.logger.Warn("failed to store embedding",
				zap.String("memory_id", m.ID.String()), zap.Error(err))
		}
	}
	return m, nil
}

// Get retrieves a memory by id. A miss in the active table falls through to
// the archive and restores on hit, so callers never see the archive boundary.
// Reads below full strength reinforce by the access boost.
func (s *MemoryService) Get(ctx context.Context, userID string, id uuid.UUID) (*domain.Memory, error) {
	m, err := s.memoryStore.GetByUser(ctx, userID, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) || s.archiveStore == nil {
			return nil, err
		}
		restored, rerr := s.archiveStore.Restore(ctx, userID, id)
		if rerr != nil {
			return nil, err
		}
		s.logger.Info("restored memory on access",
			zap.String("user_id", userID),
			zap.String("memory_id", id.String()))
		m = restored
	}

	s.touch(ctx, m)
	return m, nil
}

// List returns every active memory for the user.
func (s *MemoryService) List(ctx context.Context, userID string) ([]domain.Memory, error) {
	return s.memoryStore.ListByUser(ctx, userID)
}

// Delete removes one memory for the user.
func (s *MemoryService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	return s.memoryStore.Delete(ctx, userID, id)
}

// Recall embeds the query and returns the top matches by cosine similarity.
// Each hit counts as an access and is reinforced.
func (s *MemoryService) Recall(ctx context.Context, userID, query string, topK int) ([]domain.MemoryWithScore, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}
	if topK <= 0 {
		topK = defaultRecallTopK
	}
	if s.embeddingClient == nil {
		return nil, ErrLLMNotConfigured
	}

	vec, err := s.embeddingClient.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}

	hits, err := s.memoryStore.Recall(ctx, userID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	for i := range hits {
		s.touch(ctx, &hits[i].Memory)
	}
	return hits, nil
}

// touch records an access: increments the access count and, below full
// strength, applies the access boost. Best effort.
func (s *MemoryService) touch(ctx context.Context, m *domain.Memory) {
	if s.decay == nil {
		return
	}
	if m.Strength >= 1 {
		if err := s.memoryStore.Reinforce(ctx, m.ID, m.Strength, true); err != nil {
			s.logger.Debug("failed to record access",
				zap.String("memory_id", m.ID.String()), zap.Error(err))
		}
		return
	}
	after, err := s.decay.AutoReinforceOnAccess(ctx, m.ID)
	if err != nil {
		s.logger.Debug("auto-reinforce on access failed",
			zap.String("memory_id", m.ID.String()), zap.Error(err))
		return
	}
	m.Strength = after
}
