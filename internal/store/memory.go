package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

const memoryColumns = `id, user_id, session_id, content, primary_sector, salience, strength, decay_rate, access_count, created_at, last_accessed_at, consolidated_into, embedding_status`

type MemoryStore struct {
	db *pgxpool.Pool
}

func NewMemoryStore(db *pgxpool.Pool) *MemoryStore {
	return &MemoryStore{db: db}
}

func scanMemory(row pgx.Row) (*domain.Memory, error) {
	m := &domain.Memory{}
	err := row.Scan(
		&m.ID, &m.UserID, &m.SessionID, &m.Content, &m.PrimarySector,
		&m.Salience, &m.Strength, &m.DecayRate, &m.AccessCount,
		&m.CreatedAt, &m.LastAccessedAt, &m.ConsolidatedInto, &m.EmbeddingStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return m, nil
}

func (s *MemoryStore) Create(ctx context.Context, m *domain.Memory) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO memories (id, user_id, session_id, content, primary_sector, salience, strength, decay_rate, access_count, created_at, last_accessed_at, embedding_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, COALESCE($9, NOW()), COALESCE($10, NOW()), $11)
		 RETURNING created_at, last_accessed_at`,
		m.ID, m.UserID, m.SessionID, m.Content, m.PrimarySector,
		m.Salience, m.Strength, m.DecayRate, nullableTime(m.CreatedAt), nullableTime(m.LastAccessedAt), m.EmbeddingStatus,
	).Scan(&m.CreatedAt, &m.LastAccessedAt)
	if err != nil {
		return classify(err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	return scanMemory(s.db.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id))
}

func (s *MemoryStore) GetByUser(ctx context.Context, userID string, id uuid.UUID) (*domain.Memory, error) {
	return scanMemory(s.db.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = $1 AND user_id = $2`, id, userID))
}

func (s *MemoryStore) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM memories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]domain.Memory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows pgx.Rows) ([]domain.Memory, error) {
	var out []domain.Memory
	for rows.Next() {
		var m domain.Memory
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.SessionID, &m.Content, &m.PrimarySector,
			&m.Salience, &m.Strength, &m.DecayRate, &m.AccessCount,
			&m.CreatedAt, &m.LastAccessedAt, &m.ConsolidatedInto, &m.EmbeddingStatus,
		); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *MemoryStore) ListEpisodicUnconsolidated(ctx context.Context, userID string, limit int) ([]domain.Memory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+memoryColumns+`
		 FROM memories
		 WHERE user_id = $1 AND primary_sector = $2 AND consolidated_into IS NULL AND embedding_status = $3
		 ORDER BY created_at
		 LIMIT $4`,
		userID, domain.SectorEpisodic, domain.EmbeddingComplete, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// legacyMemoryColumns omits consolidated_into and embedding_status so the
// query works against a schema that predates the consolidation migration.
const legacyMemoryColumns = `id, user_id, session_id, content, primary_sector, salience, strength, decay_rate, access_count, created_at, last_accessed_at`

func (s *MemoryStore) ListEpisodicTolerant(ctx context.Context, userID string, limit int) ([]domain.Memory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+legacyMemoryColumns+`
		 FROM memories
		 WHERE user_id = $1 AND primary_sector = $2
		 ORDER BY created_at
		 LIMIT $3`,
		userID, domain.SectorEpisodic, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		var m domain.Memory
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.SessionID, &m.Content, &m.PrimarySector,
			&m.Salience, &m.Strength, &m.DecayRate, &m.AccessCount,
			&m.CreatedAt, &m.LastAccessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *MemoryStore) CountEpisodicUnconsolidated(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM memories
		 WHERE user_id = $1 AND primary_sector = $2 AND consolidated_into IS NULL`,
		userID, domain.SectorEpisodic).Scan(&count)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

func (s *MemoryStore) Recall(ctx context.Context, userID string, embedding []float32, topK int) ([]domain.MemoryWithScore, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT m.id, m.user_id, m.session_id, m.content, m.primary_sector, m.salience, m.strength, m.decay_rate, m.access_count, m.created_at, m.last_accessed_at, m.consolidated_into, m.embedding_status,
		        1 - (e.embedding <=> $2) AS score
		 FROM memories m
		 JOIN memory_embeddings e ON e.memory_id = m.id AND e.sector = $3
		 WHERE m.user_id = $1 AND m.consolidated_into IS NULL
		 ORDER BY score DESC
		 LIMIT $4`,
		userID, vec, domain.SectorSemantic, topK)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var results []domain.MemoryWithScore
	for rows.Next() {
		var ms domain.MemoryWithScore
		if err := rows.Scan(
			&ms.ID, &ms.UserID, &ms.SessionID, &ms.Content, &ms.PrimarySector,
			&ms.Salience, &ms.Strength, &ms.DecayRate, &ms.AccessCount,
			&ms.CreatedAt, &ms.LastAccessedAt, &ms.ConsolidatedInto, &ms.EmbeddingStatus,
			&ms.Score,
		); err != nil {
			return nil, fmt.Errorf("scan recall row: %w", err)
		}
		results = append(results, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return results, nil
}

func (s *MemoryStore) UpdateStrength(ctx context.Context, id uuid.UUID, strength float64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memories SET strength = $2 WHERE id = $1`, id, strength)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BatchUpdateStrength writes all updates in one transaction; any failure
// rolls the whole batch back.
func (s *MemoryStore) BatchUpdateStrength(ctx context.Context, updates []domain.StrengthUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range updates {
		if _, err := tx.Exec(ctx,
			`UPDATE memories SET strength = $2 WHERE id = $1`, u.ID, u.Strength); err != nil {
			return fmt.Errorf("batch strength update %s: %w", u.ID, classify(err))
		}
	}
	return tx.Commit(ctx)
}

func (s *MemoryStore) Reinforce(ctx context.Context, id uuid.UUID, strength float64, incrementAccess bool) error {
	increment := 0
	if incrementAccess {
		increment = 1
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE memories
		 SET strength = $2,
		     access_count = access_count + $3,
		     last_accessed_at = NOW()
		 WHERE id = $1`,
		id, strength, increment)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) ListDistinctUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT user_id FROM memories ORDER BY user_id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return users, nil
}

func (s *MemoryStore) CountBySector(ctx context.Context, userID string) (map[domain.Sector]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT primary_sector, COUNT(*) FROM memories WHERE user_id = $1 GROUP BY primary_sector`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	counts := make(map[domain.Sector]int, len(domain.Sectors))
	for _, sector := range domain.Sectors {
		counts[sector] = 0
	}
	for rows.Next() {
		var sector domain.Sector
		var n int
		if err := rows.Scan(&sector, &n); err != nil {
			return nil, fmt.Errorf("scan sector count: %w", err)
		}
		counts[sector] = n
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return counts, nil
}

func (s *MemoryStore) CountByAge(ctx context.Context, userID string, now time.Time) (*domain.AgeBuckets, error) {
	buckets := &domain.AgeBuckets{}
	err := s.db.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE created_at > $2 - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE created_at <= $2 - INTERVAL '24 hours' AND created_at > $2 - INTERVAL '7 days'),
			COUNT(*) FILTER (WHERE created_at <= $2 - INTERVAL '7 days' AND created_at > $2 - INTERVAL '30 days'),
			COUNT(*) FILTER (WHERE created_at <= $2 - INTERVAL '30 days')
		 FROM memories WHERE user_id = $1`,
		userID, now,
	).Scan(&buckets.Last24h, &buckets.LastWeek, &buckets.LastMonth, &buckets.Older)
	if err != nil {
		return nil, classify(err)
	}
	return buckets, nil
}

func (s *MemoryStore) ForgettingCandidates(ctx context.Context, userID string, now time.Time) (*domain.ForgettingCounts, error) {
	counts := &domain.ForgettingCounts{}
	err := s.db.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE strength < 0.1),
			COUNT(*) FILTER (WHERE created_at < $2 - INTERVAL '180 days'),
			COUNT(*) FILTER (WHERE access_count <= 0),
			COUNT(*) FILTER (WHERE strength < 0.1 OR created_at < $2 - INTERVAL '180 days' OR access_count <= 0)
		 FROM memories WHERE user_id = $1`,
		userID, now,
	).Scan(&counts.LowStrength, &counts.OldAge, &counts.LowAccess, &counts.Total)
	if err != nil {
		return nil, classify(err)
	}
	return counts, nil
}

// StorageBytes is content bytes plus four bytes per embedding dimension.
func (s *MemoryStore) StorageBytes(ctx context.Context, userID string) (int64, error) {
	var contentBytes, embeddingBytes int64
	err := s.db.QueryRow(ctx,
		`SELECT
			(SELECT COALESCE(SUM(OCTET_LENGTH(content)), 0) FROM memories WHERE user_id = $1),
			(SELECT COALESCE(SUM(e.dimension), 0) * 4
			 FROM memory_embeddings e
			 JOIN memories m ON m.id = e.memory_id
			 WHERE m.user_id = $1)`,
		userID,
	).Scan(&contentBytes, &embeddingBytes)
	if err != nil {
		return 0, classify(err)
	}
	return contentBytes + embeddingBytes, nil
}
