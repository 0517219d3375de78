package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskcycle/internal/model"
	"taskcycle/pkg/metrics"
	"taskcycle/pkg/outbox"
	"taskcycle/pkg/trace"
)

// OccurrenceRepository owns the one atomic unit of the engine: inserting the
// next occurrence, advancing the series counter and queueing the
// occurrence.created event commit or roll back together.
type OccurrenceRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewOccurrenceRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *OccurrenceRepository {
	return &OccurrenceRepository{db: db, outbox: outboxRepo, logger: logger}
}

// CreateOccurrence returns inserted=false when the (series_id, due_date)
// unique index already holds a row, which is the idempotency signal: nothing
// was written and the caller should fetch the existing occurrence.
func (r *OccurrenceRepository) CreateOccurrence(ctx context.Context, series *model.Series, task *model.Task) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "tasks", time.Since(start)) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        INSERT INTO tasks (id, user_id, series_id, parent_task_id, title, description, priority, due_date, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (series_id, due_date) WHERE series_id IS NOT NULL DO NOTHING
    `, task.ID, task.UserID, task.SeriesID, task.ParentTaskID,
		task.Title, task.Description, task.Priority, task.DueDate, task.Status)
	if err != nil {
		r.logger.Error("Failed to insert occurrence",
			zap.String("series_id", series.ID.String()),
			zap.Time("due_date", task.DueDate),
			zap.Error(err),
		)
		return false, fmt.Errorf("failed to insert occurrence: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Conflict on (series_id, due_date): someone already materialized it.
		return false, nil
	}

	_, err = tx.Exec(ctx, `
        UPDATE series
        SET occurrences_generated = occurrences_generated + 1, updated_at = NOW()
        WHERE id = $1
    `, series.ID)
	if err != nil {
		return false, fmt.Errorf("failed to advance series counter: %w", err)
	}

	seriesID := series.ID.String()
	payload := map[string]interface{}{
		"task_id":   task.ID.String(),
		"series_id": seriesID,
		"user_id":   task.UserID.String(),
		"due_date":  task.DueDate.Format(time.RFC3339),
		"trace_id":  trace.FromContext(ctx),
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "series", &seriesID, "occurrence.created", payload); err != nil {
		return false, fmt.Errorf("failed to queue occurrence.created event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit occurrence: %w", err)
	}

	r.logger.Info("Occurrence materialized",
		zap.String("series_id", seriesID),
		zap.String("task_id", task.ID.String()),
		zap.Time("due_date", task.DueDate),
	)
	return true, nil
}
