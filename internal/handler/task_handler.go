package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskcycle/internal/repository"
	"taskcycle/internal/service"
)

type TaskHandler struct {
	taskRepo  *repository.TaskRepository
	processor *service.Processor
	logger    *zap.Logger
}

func NewTaskHandler(taskRepo *repository.TaskRepository, processor *service.Processor, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{taskRepo: taskRepo, processor: processor, logger: logger}
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	userIDRaw := c.Query("user_id")
	if userIDRaw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	userID, err := uuid.Parse(userIDRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	tasks, err := h.taskRepo.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("ListTasks: failed to fetch tasks",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch tasks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// CompleteTask marks the task completed (CRUD concern) and then runs the
// completion trigger of the occurrence engine.
func (h *TaskHandler) CompleteTask(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	ctx := c.Request.Context()
	if err := h.taskRepo.MarkCompleted(ctx, taskID); err != nil {
		h.logger.Error("CompleteTask: failed to mark completed",
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete task"})
		return
	}

	res := h.processor.ProcessCompletion(ctx, taskID)
	if res.Outcome == service.OutcomeFailed && res.ErrKind == service.ErrKindValidation {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"outcome": res.Outcome,
			"error":   res.Err.Error(),
		})
		return
	}

	status := http.StatusOK
	if res.Outcome == service.OutcomeFailed {
		// Retryable failure: the next completion event or tick will produce
		// the occurrence, nothing is lost.
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"result": res})
}

// Tick triggers one scheduled batch advance by hand.
func (h *TaskHandler) Tick(c *gin.Context) {
	results, err := h.processor.ProcessScheduledTick(c.Request.Context(), h.processor.Now())
	if err != nil {
		h.logger.Error("Tick: batch advance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tick failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(results),
		"results": results,
	})
}
