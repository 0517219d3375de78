package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taskcycle/internal/model"
)

// SeriesStore is the persistence surface the engine needs for series.
// Implemented by repository.SeriesRepository.
type SeriesStore interface {
	Load(ctx context.Context, id uuid.UUID) (*model.Series, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Series, error)
}

// TaskStore is the read surface for occurrences.
// Implemented by repository.TaskRepository.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Task, error)
	GetBySeriesAndDue(ctx context.Context, seriesID uuid.UUID, due time.Time) (*model.Task, error)
	LatestForSeries(ctx context.Context, seriesID uuid.UUID) (*model.Task, error)
	CountOverdueActive(ctx context.Context, now time.Time) (int, error)
}

// OccurrenceWriter performs the atomic materialization write.
// Implemented by repository.OccurrenceRepository.
type OccurrenceWriter interface {
	// CreateOccurrence inserts the task, advances the series bookkeeping and
	// queues the occurrence.created event in one transaction. inserted=false
	// means the (series_id, due_date) row already existed.
	CreateOccurrence(ctx context.Context, series *model.Series, task *model.Task) (inserted bool, err error)
}

// EventPublisher is the MQ surface for best-effort notifications outside the
// outbox path. Implemented by mq.Publisher.
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}
