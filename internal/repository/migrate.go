package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// The unique index on (series_id, due_date) is the persistence half of the
// materialization idempotency guarantee; everything else is plain schema.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS series (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority INT NOT NULL DEFAULT 0,
		pattern JSONB NOT NULL,
		occurrences_generated INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		series_id UUID REFERENCES series(id),
		parent_task_id UUID,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority INT NOT NULL DEFAULT 0,
		due_date TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_series_due
		ON tasks (series_id, due_date) WHERE series_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_due ON tasks (status, due_date)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT,
		routing_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INT NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox_events (created_at) WHERE status = 'pending'`,
}

// Migrate applies the schema. Statements are idempotent so running at every
// startup is safe.
func Migrate(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	logger.Info("Schema migrations applied", zap.Int("statements", len(migrations)))
	return nil
}
