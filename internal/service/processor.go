package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskcycle/internal/config"
	"taskcycle/internal/lock"
	"taskcycle/internal/model"
	"taskcycle/pkg/logger"
	"taskcycle/pkg/metrics"
	"taskcycle/pkg/util"
)

const (
	triggerCompletion = "completion"
	triggerTick       = "tick"

	// Transient persistence failures are retried here before surfacing;
	// materialization is idempotent so the retry is blind.
	maxPersistenceRetries = 2
)

// Processor orchestrates the engine: validate, lock, check termination,
// compute, materialize, release. It holds only injected dependencies.
type Processor struct {
	series       SeriesStore
	tasks        TaskStore
	materializer *Materializer
	locker       lock.Locker
	publisher    EventPublisher // optional, best-effort notifications
	cfg          config.RecurrenceConfig
	logger       *zap.Logger
	now          func() time.Time
}

func NewProcessor(
	series SeriesStore,
	tasks TaskStore,
	materializer *Materializer,
	locker lock.Locker,
	publisher EventPublisher,
	cfg config.RecurrenceConfig,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		series:       series,
		tasks:        tasks,
		materializer: materializer,
		locker:       locker,
		publisher:    publisher,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Now exposes the injected clock so trigger wiring (cron job, admin tick
// endpoint) shares the processor's time source.
func (p *Processor) Now() time.Time {
	return p.now()
}

// ProcessCompletion advances a series in response to a task-completion
// event. The completed occurrence's due date is the anchor for the next one,
// so the schedule does not drift with when the user actually completed it.
func (p *Processor) ProcessCompletion(ctx context.Context, taskID uuid.UUID) Result {
	if !p.cfg.AdvanceOnCompletion {
		return skipped()
	}

	task, err := p.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return failed(ErrKindValidation, fmt.Errorf("task %s not found", taskID))
		}
		return failed(ErrKindPersistence, err)
	}

	if task.SeriesID == nil {
		// One-off task, nothing to advance.
		return skipped()
	}

	res := p.advance(ctx, *task.SeriesID, task)
	metrics.RecordOccurrenceOutcome(triggerCompletion, string(res.Outcome))
	p.logResult(ctx, triggerCompletion, *task.SeriesID, res)
	return res
}

// ProcessScheduledTick advances every series whose latest occurrence is due
// at or before now, bounded by max_batch_size. Per-series failures are
// reported in the results and do not abort the batch.
func (p *Processor) ProcessScheduledTick(ctx context.Context, now time.Time) ([]Result, error) {
	if !p.cfg.AdvanceOnSchedule {
		return nil, nil
	}

	due, err := p.series.ListDue(ctx, now, p.cfg.MaxBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list due series: %w", err)
	}

	results := make([]Result, 0, len(due))
	for _, s := range due {
		res := p.advanceFromLatest(ctx, s.ID)
		metrics.RecordOccurrenceOutcome(triggerTick, string(res.Outcome))
		p.logResult(ctx, triggerTick, s.ID, res)
		results = append(results, res)
	}

	metrics.RecordTickBatch(len(due))

	// Overdue sweep: observability only, the engine never mutates a task
	// after creation.
	if overdue, err := p.tasks.CountOverdueActive(ctx, now); err == nil {
		metrics.SetOverdueOccurrences(overdue)
	} else {
		p.logger.Warn("Overdue sweep failed", zap.Error(err))
	}

	p.logger.Info("Scheduled tick completed",
		zap.Int("series_count", len(due)),
	)
	return results, nil
}

// advanceFromLatest anchors on the series' latest occurrence, used by the
// scheduled tick where no completion event names an anchor.
func (p *Processor) advanceFromLatest(ctx context.Context, seriesID uuid.UUID) Result {
	latest, err := p.tasks.LatestForSeries(ctx, seriesID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A series with no occurrences has no anchor to advance from.
			return skipped()
		}
		return failed(ErrKindPersistence, err)
	}
	return p.advance(ctx, seriesID, latest)
}

// advance is the VALIDATE -> ACQUIRE -> CHECK -> COMPUTE -> MATERIALIZE ->
// RELEASE sequence for one series. The lease is released on every exit path.
func (p *Processor) advance(ctx context.Context, seriesID uuid.UUID, prev *model.Task) Result {
	series, err := p.series.Load(ctx, seriesID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return failed(ErrKindValidation, fmt.Errorf("series %s not found", seriesID))
		}
		return failed(ErrKindPersistence, err)
	}

	if err := series.Pattern.Validate(); err != nil {
		return failed(ErrKindValidation, err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, p.cfg.LockTimeout())
	defer cancel()

	lease, err := p.locker.Acquire(lockCtx, seriesID.String())
	if err != nil {
		if errors.Is(err, lock.ErrAcquireTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return failed(ErrKindLockTimeout, err)
		}
		return failed(ErrKindPersistence, err)
	}
	defer func() {
		if err := lease.Release(ctx); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			p.logger.Warn("Failed to release series lease",
				zap.String("series_id", seriesID.String()),
				zap.Error(err),
			)
		}
	}()

	// Reload under the lease so the termination check sees the counter as
	// left by the previous holder.
	series, err = p.series.Load(ctx, seriesID)
	if err != nil {
		return failed(ErrKindPersistence, err)
	}

	res := p.materializeWithRetry(ctx, series, prev, lease)

	if res.Outcome == OutcomeSeriesExhausted {
		p.notifyExhausted(ctx, series)
	}
	return res
}

// materializeWithRetry retries transient persistence failures in place.
// Retry policy lives here and nowhere else; the materializer only reports.
func (p *Processor) materializeWithRetry(ctx context.Context, series *model.Series, prev *model.Task, lease lock.Lease) Result {
	var res Result
	for attempt := 0; ; attempt++ {
		res = p.materializer.Materialize(ctx, series, prev)
		if res.Outcome != OutcomeFailed || res.ErrKind != ErrKindPersistence {
			return res
		}

		retryable, errType := util.IsRetryableError(res.Err)
		if !retryable || attempt >= maxPersistenceRetries {
			return res
		}

		p.logger.Warn("Retrying materialization after transient failure",
			zap.String("series_id", series.ID.String()),
			zap.String("error_type", errType),
			zap.Int("attempt", attempt+1),
			zap.Error(res.Err),
		)

		// Keep the lease alive across the backoff.
		if err := lease.Renew(ctx); err != nil {
			return failed(ErrKindLockTimeout, fmt.Errorf("lease lost during retry: %w", err))
		}

		select {
		case <-ctx.Done():
			return failed(ErrKindPersistence, ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
}

func (p *Processor) notifyExhausted(ctx context.Context, series *model.Series) {
	if p.publisher == nil {
		return
	}
	payload := map[string]interface{}{
		"series_id": series.ID.String(),
		"user_id":   series.UserID.String(),
	}
	if err := p.publisher.PublishWithContext(ctx, "series.exhausted", payload); err != nil {
		p.logger.Warn("Failed to publish series.exhausted event",
			zap.String("series_id", series.ID.String()),
			zap.Error(err),
		)
	}
}

func (p *Processor) logResult(ctx context.Context, trigger string, seriesID uuid.UUID, res Result) {
	log := logger.WithTrace(ctx, p.logger)
	fields := []zap.Field{
		zap.String("trigger", trigger),
		zap.String("series_id", seriesID.String()),
		zap.String("outcome", string(res.Outcome)),
	}
	if res.Task != nil {
		fields = append(fields,
			zap.String("task_id", res.Task.ID.String()),
			zap.Time("due_date", res.Task.DueDate),
		)
	}

	switch res.Outcome {
	case OutcomeFailed:
		log.Error("Occurrence processing failed",
			append(fields, zap.String("error_kind", string(res.ErrKind)), zap.Error(res.Err))...)
	case OutcomeCreated:
		log.Info("Occurrence created", fields...)
	default:
		log.Debug("Occurrence processing finished", fields...)
	}
}
