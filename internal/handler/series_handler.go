package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskcycle/internal/model"
	"taskcycle/internal/recurrence"
	"taskcycle/internal/repository"
)

type SeriesHandler struct {
	seriesRepo *repository.SeriesRepository
	logger     *zap.Logger
}

func NewSeriesHandler(seriesRepo *repository.SeriesRepository, logger *zap.Logger) *SeriesHandler {
	return &SeriesHandler{seriesRepo: seriesRepo, logger: logger}
}

type createSeriesRequest struct {
	UserID       uuid.UUID          `json:"user_id" binding:"required"`
	Title        string             `json:"title" binding:"required"`
	Description  string             `json:"description"`
	Priority     int                `json:"priority"`
	Pattern      recurrence.Pattern `json:"pattern"`
	FirstDueDate time.Time          `json:"first_due_date" binding:"required"`
}

// CreateSeries validates the pattern and creates the series together with its
// seed occurrence. Validation failures come back with the offending field.
func (h *SeriesHandler) CreateSeries(c *gin.Context) {
	var req createSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("CreateSeries: malformed request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := req.Pattern.Validate(); err != nil {
		field := "pattern"
		switch {
		case errors.Is(err, recurrence.ErrInvalidInterval):
			field = "pattern.interval"
		case errors.Is(err, recurrence.ErrInvalidCount):
			field = "pattern.count"
		case errors.Is(err, recurrence.ErrInvalidPattern):
			field = "pattern.type"
		}
		h.logger.Warn("CreateSeries: invalid pattern",
			zap.String("field", field),
			zap.Error(err),
		)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "field": field})
		return
	}

	series := &model.Series{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Pattern:     req.Pattern,
	}
	seed := &model.Task{
		ID:          uuid.New(),
		UserID:      req.UserID,
		SeriesID:    &series.ID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueDate:     req.FirstDueDate,
		Status:      model.TaskActive,
	}

	if err := h.seriesRepo.CreateWithSeed(c.Request.Context(), series, seed); err != nil {
		h.logger.Error("CreateSeries: failed to persist",
			zap.String("series_id", series.ID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create series"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"series":    series,
		"seed_task": seed,
	})
}

func (h *SeriesHandler) GetSeries(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}

	series, err := h.seriesRepo.Load(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "series not found"})
			return
		}
		h.logger.Error("GetSeries: failed to load",
			zap.String("series_id", id.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load series"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"series": series})
}
