package mqhandler

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskcycle/internal/service"
	"taskcycle/pkg/mq"
	"taskcycle/pkg/trace"
	"taskcycle/pkg/util"
)

const maxRetries = 5

// CompletionProcessor is the slice of the processor this handler needs.
type CompletionProcessor interface {
	ProcessCompletion(ctx context.Context, taskID uuid.UUID) service.Result
}

// TaskCompletedHandler consumes task.completed events and runs the
// completion trigger. Redelivery is bounded: retryable failures are nacked
// until maxRetries, then the message goes to the DLQ.
type TaskCompletedHandler struct {
	processor    CompletionProcessor
	retryCounter *util.RetryCounter
	publisher    *mq.Publisher
	logger       *zap.Logger
}

func NewTaskCompletedHandler(
	processor CompletionProcessor,
	retryCounter *util.RetryCounter,
	publisher *mq.Publisher,
	logger *zap.Logger,
) *TaskCompletedHandler {
	return &TaskCompletedHandler{
		processor:    processor,
		retryCounter: retryCounter,
		publisher:    publisher,
		logger:       logger,
	}
}

type taskCompletedPayload struct {
	TaskID  string `json:"task_id"`
	UserID  string `json:"user_id"`
	TraceID string `json:"trace_id"`
}

// Handle is idempotent: a redelivered event lands on the materializer's
// already-exists path rather than creating a second occurrence.
func (h *TaskCompletedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p taskCompletedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal task.completed payload (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		if dlqErr := h.publisher.PublishToDLQ("task.completed", raw, err.Error()); dlqErr != nil {
			h.logger.Error("Failed to publish to DLQ", zap.Error(dlqErr))
		}
		return nil // ack, the payload will never parse
	}

	taskID, err := uuid.Parse(p.TaskID)
	if err != nil {
		h.logger.Error("Invalid task_id in task.completed payload",
			zap.String("task_id", p.TaskID),
			zap.Error(err),
		)
		return nil
	}

	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}

	h.logger.Info("Processing task.completed event",
		zap.String("task_id", p.TaskID),
		zap.String("user_id", p.UserID),
	)

	res := h.processor.ProcessCompletion(ctx, taskID)
	if res.Outcome != service.OutcomeFailed {
		h.retryCounter.Reset(ctx, util.FormatRetryKey("completion", p.TaskID))
		return nil
	}

	if !res.Retryable() {
		// Validation failures will not heal on redelivery; ack and move on.
		h.logger.Warn("Dropping non-retryable task.completed event",
			zap.String("task_id", p.TaskID),
			zap.String("error_kind", string(res.ErrKind)),
			zap.Error(res.Err),
		)
		return nil
	}

	key := util.FormatRetryKey("completion", p.TaskID)
	count, cntErr := h.retryCounter.IncrementAndGet(ctx, key)
	if cntErr != nil {
		h.logger.Warn("Retry counter unavailable, requeueing anyway",
			zap.String("task_id", p.TaskID),
			zap.Error(cntErr),
		)
		return res.Err
	}

	if count > maxRetries {
		h.logger.Error("Max retries exceeded, sending task.completed to DLQ",
			zap.String("task_id", p.TaskID),
			zap.Int64("retry_count", count),
			zap.Error(res.Err),
		)
		if dlqErr := h.publisher.PublishToDLQ("task.completed", raw, res.Err.Error()); dlqErr != nil {
			h.logger.Error("Failed to publish to DLQ", zap.Error(dlqErr))
		}
		h.retryCounter.Reset(ctx, key)
		return nil
	}

	// Nack and let MQ redeliver.
	return res.Err
}
