package service

import "taskcycle/internal/model"

// Outcome of one occurrence-processing attempt.
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeAlreadyExists   Outcome = "already_exists"
	OutcomeSeriesExhausted Outcome = "series_exhausted"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeFailed          Outcome = "failed"
)

// ErrorKind classifies failures so callers can decide retry policy.
type ErrorKind string

const (
	ErrKindValidation  ErrorKind = "validation"
	ErrKindLockTimeout ErrorKind = "lock_timeout"
	ErrKindPersistence ErrorKind = "persistence"
)

// Result is the explicit outcome of a processing attempt. SeriesExhausted is
// a defined end state, not an error.
type Result struct {
	Outcome Outcome     `json:"outcome"`
	Task    *model.Task `json:"task,omitempty"`
	ErrKind ErrorKind   `json:"error_kind,omitempty"`
	Err     error       `json:"-"`
}

func created(t *model.Task) Result {
	return Result{Outcome: OutcomeCreated, Task: t}
}

func alreadyExists(t *model.Task) Result {
	return Result{Outcome: OutcomeAlreadyExists, Task: t}
}

func seriesExhausted() Result {
	return Result{Outcome: OutcomeSeriesExhausted}
}

func skipped() Result {
	return Result{Outcome: OutcomeSkipped}
}

func failed(kind ErrorKind, err error) Result {
	return Result{Outcome: OutcomeFailed, ErrKind: kind, Err: err}
}

// Retryable reports whether the caller may safely retry the whole call.
// Materialization is idempotent, so persistence failures retry blind.
func (r Result) Retryable() bool {
	return r.Outcome == OutcomeFailed &&
		(r.ErrKind == ErrKindLockTimeout || r.ErrKind == ErrKindPersistence)
}
