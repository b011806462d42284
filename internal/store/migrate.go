package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_memories",
		sql: `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS memories (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	primary_sector TEXT NOT NULL,
	salience DOUBLE PRECISION NOT NULL DEFAULT 0,
	strength DOUBLE PRECISION NOT NULL DEFAULT 1,
	decay_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	access_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	consolidated_into UUID REFERENCES memories(id) ON DELETE SET NULL,
	embedding_status TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
CREATE INDEX IF NOT EXISTS idx_memories_sector ON memories(user_id, primary_sector);
`,
	},
	{
		version: 2,
		name:    "create_memory_embeddings",
		sql: `
CREATE TABLE IF NOT EXISTS memory_embeddings (
	memory_id UUID NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	sector TEXT NOT NULL DEFAULT 'semantic',
	dimension INTEGER NOT NULL,
	embedding VECTOR,
	PRIMARY KEY (memory_id, sector)
);
`,
	},
	{
		version: 3,
		name:    "create_memory_links",
		sql: `
CREATE TABLE IF NOT EXISTS memory_links (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	source_id UUID NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	target_id UUID NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_memory_links_source ON memory_links(source_id);
CREATE INDEX IF NOT EXISTS idx_memory_links_target ON memory_links(target_id);
`,
	},
	{
		version: 4,
		name:    "create_memory_metadata_and_tags",
		sql: `
CREATE TABLE IF NOT EXISTS memory_metadata (
	memory_id UUID PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
	metadata JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS memory_tag_associations (
	memory_id UUID NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	PRIMARY KEY (memory_id, tag)
);
`,
	},
	{
		version: 5,
		name:    "create_archived_memories",
		sql: `
CREATE TABLE IF NOT EXISTS archived_memories (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	primary_sector TEXT NOT NULL,
	salience DOUBLE PRECISION NOT NULL DEFAULT 0,
	strength DOUBLE PRECISION NOT NULL DEFAULT 0,
	decay_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	access_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	embedding VECTOR,
	embedding_dimension INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_archived_memories_user ON archived_memories(user_id);
`,
	},
	{
		version: 6,
		name:    "create_reinforcement_history",
		sql: `
CREATE TABLE IF NOT EXISTS reinforcement_history (
	id BIGSERIAL PRIMARY KEY,
	memory_id UUID NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	reinforcement_type TEXT NOT NULL,
	boost DOUBLE PRECISION NOT NULL,
	strength_before DOUBLE PRECISION NOT NULL,
	strength_after DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reinforcement_history_memory ON reinforcement_history(memory_id);
`,
	},
	{
		version: 7,
		name:    "create_consolidation_history",
		sql: `
CREATE TABLE IF NOT EXISTS consolidation_history (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id TEXT NOT NULL,
	summary_id UUID NOT NULL,
	source_ids UUID[] NOT NULL,
	topic TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_consolidation_history_user ON consolidation_history(user_id);
`,
	},
}

// Migrate applies pending migrations in order, recording each in
// schema_migrations. Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) error {
	_, err := db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", classify(err))
	}

	applied := make(map[int]bool)
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", classify(err))
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("schema_migrations rows: %w", classify(err))
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, classify(err))
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, classify(err))
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
			m.version, m.name,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", m.version, classify(err))
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, classify(err))
		}
		logger.Info("applied migration", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return nil
}
