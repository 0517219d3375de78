package model

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is one concrete occurrence. SeriesID is nil for one-off tasks.
// ParentTaskID points at the occurrence that triggered this one (or is nil
// for the seed occurrence); it is a lookup reference, not ownership.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	SeriesID     *uuid.UUID `json:"series_id,omitempty"`
	ParentTaskID *uuid.UUID `json:"parent_task_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Priority     int        `json:"priority"`
	DueDate      time.Time  `json:"due_date"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}
