package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskcycle/internal/model"
	"taskcycle/internal/recurrence"
)

// Materializer creates the next occurrence of a series. It must only run
// under a held series lease; the lease is the caller's responsibility.
type Materializer struct {
	tasks  TaskStore
	writer OccurrenceWriter
	logger *zap.Logger
}

func NewMaterializer(tasks TaskStore, writer OccurrenceWriter, logger *zap.Logger) *Materializer {
	return &Materializer{
		tasks:  tasks,
		writer: writer,
		logger: logger,
	}
}

// Materialize computes the next due date from prev and persists the
// occurrence. Outcomes:
//   - SeriesExhausted when the pattern count is already spent (an end state,
//     not an error);
//   - Created with the new task on success, with the series counter advanced
//     in the same transaction;
//   - AlreadyExists with the previously created task when the
//     (series_id, due_date) row is already there: calling twice for the same
//     pair never creates two rows;
//   - Failed(persistence) on storage errors. The write is atomic, so the
//     caller may blindly retry the whole call.
func (m *Materializer) Materialize(ctx context.Context, series *model.Series, prev *model.Task) Result {
	if series.Exhausted() {
		m.logger.Info("Series exhausted, no further occurrences",
			zap.String("series_id", series.ID.String()),
			zap.Int("occurrences_generated", series.OccurrencesGenerated),
		)
		return seriesExhausted()
	}

	due := recurrence.NextDate(prev.DueDate, series.Pattern)

	task := &model.Task{
		ID:           uuid.New(),
		UserID:       series.UserID,
		SeriesID:     &series.ID,
		ParentTaskID: &prev.ID,
		Title:        series.Title,
		Description:  series.Description,
		Priority:     series.Priority,
		DueDate:      due,
		Status:       model.TaskActive,
	}

	inserted, err := m.writer.CreateOccurrence(ctx, series, task)
	if err != nil {
		return failed(ErrKindPersistence, fmt.Errorf("materialize failed: %w", err))
	}

	if !inserted {
		existing, err := m.tasks.GetBySeriesAndDue(ctx, series.ID, due)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Inserted by a concurrent caller and deleted since; treat as
				// a transient state and let the caller retry.
				return failed(ErrKindPersistence, fmt.Errorf("occurrence vanished after conflict: %w", err))
			}
			return failed(ErrKindPersistence, err)
		}
		m.logger.Debug("Occurrence already materialized",
			zap.String("series_id", series.ID.String()),
			zap.String("task_id", existing.ID.String()),
		)
		return alreadyExists(existing)
	}

	series.OccurrencesGenerated++
	return created(task)
}
