package model

import (
	"time"

	"github.com/google/uuid"

	"taskcycle/internal/recurrence"
)

// Series is a recurring-task definition that spawns occurrences. The engine
// is the only writer of OccurrencesGenerated and UpdatedAt, and only under a
// held series lease.
type Series struct {
	ID                   uuid.UUID          `json:"id"`
	UserID               uuid.UUID          `json:"user_id"`
	Title                string             `json:"title"`
	Description          string             `json:"description"`
	Priority             int                `json:"priority"`
	Pattern              recurrence.Pattern `json:"pattern"`
	OccurrencesGenerated int                `json:"occurrences_generated"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Exhausted reports whether the pattern's count has been reached.
func (s *Series) Exhausted() bool {
	return s.Pattern.Bounded() && s.OccurrencesGenerated >= *s.Pattern.Count
}
