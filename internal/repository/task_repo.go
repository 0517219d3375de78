package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskcycle/internal/model"
	"taskcycle/pkg/metrics"
)

const taskColumns = `id, user_id, series_id, parent_task_id, title, description,
               priority, due_date, completed_at, status, created_at`

type TaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.SeriesID,
		&t.ParentTaskID,
		&t.Title,
		&t.Description,
		&t.Priority,
		&t.DueDate,
		&t.CompletedAt,
		&t.Status,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "tasks", time.Since(start)) }()

	t, err := scanTask(r.db.QueryRow(ctx, `
        SELECT `+taskColumns+`
        FROM tasks
        WHERE id = $1
    `, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		r.logger.Error("Failed to get task",
			zap.String("task_id", id.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// GetBySeriesAndDue looks up the occurrence a conflicting materialization
// attempt already created.
func (r *TaskRepository) GetBySeriesAndDue(ctx context.Context, seriesID uuid.UUID, due time.Time) (*model.Task, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "tasks", time.Since(start)) }()

	t, err := scanTask(r.db.QueryRow(ctx, `
        SELECT `+taskColumns+`
        FROM tasks
        WHERE series_id = $1 AND due_date = $2
    `, seriesID, due))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get occurrence by due date: %w", err)
	}
	return t, nil
}

// LatestForSeries returns the newest occurrence by due date, or pgx.ErrNoRows
// for a series without occurrences.
func (r *TaskRepository) LatestForSeries(ctx context.Context, seriesID uuid.UUID) (*model.Task, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "tasks", time.Since(start)) }()

	t, err := scanTask(r.db.QueryRow(ctx, `
        SELECT `+taskColumns+`
        FROM tasks
        WHERE series_id = $1
        ORDER BY due_date DESC
        LIMIT 1
    `, seriesID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get latest occurrence: %w", err)
	}
	return t, nil
}

func (r *TaskRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Task, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "tasks", time.Since(start)) }()

	rows, err := r.db.Query(ctx, `
        SELECT `+taskColumns+`
        FROM tasks
        WHERE user_id = $1
        ORDER BY due_date ASC
    `, userID)
	if err != nil {
		r.logger.Error("Failed to query tasks",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkCompleted belongs to the surrounding CRUD layer; the engine itself
// never mutates a task after creation.
func (r *TaskRepository) MarkCompleted(ctx context.Context, taskID uuid.UUID) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("update", "tasks", time.Since(start)) }()

	result, err := r.db.Exec(ctx, `
        UPDATE tasks
        SET status = 'completed', completed_at = NOW()
        WHERE id = $1 AND status = 'active'
    `, taskID)
	if err != nil {
		r.logger.Error("Failed to mark task as completed",
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to mark task completed: %w", err)
	}

	r.logger.Info("Task marked as completed",
		zap.String("task_id", taskID.String()),
		zap.Int64("rows_affected", result.RowsAffected()),
	)
	return nil
}

// CountOverdueActive feeds the overdue gauge on each tick sweep.
func (r *TaskRepository) CountOverdueActive(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "tasks", time.Since(start)) }()

	var n int
	err := r.db.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM tasks
        WHERE status = 'active' AND due_date < $1
    `, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count overdue tasks: %w", err)
	}
	return n, nil
}
