package recurrence

import (
	"errors"
	"fmt"
)

// Type is the unit a series advances by.
type Type string

const (
	TypeDaily   Type = "daily"
	TypeWeekly  Type = "weekly"
	TypeMonthly Type = "monthly"
	TypeYearly  Type = "yearly"
)

var (
	ErrInvalidPattern  = errors.New("recurrence: invalid pattern type")
	ErrInvalidInterval = errors.New("recurrence: interval must be a positive integer")
	ErrInvalidCount    = errors.New("recurrence: count must be a positive integer")
)

// Pattern is the wire shape of a recurrence rule: {type, interval, count}.
// Interval and Count are pointers so an explicit zero is distinguishable
// from an absent field; absent interval means 1, absent count means unbounded.
type Pattern struct {
	Type     Type `json:"type"`
	Interval *int `json:"interval,omitempty"`
	Count    *int `json:"count,omitempty"`
}

// EffectiveInterval returns the interval with the default applied.
func (p Pattern) EffectiveInterval() int {
	if p.Interval == nil {
		return 1
	}
	return *p.Interval
}

// Bounded reports whether the series terminates after a fixed count.
func (p Pattern) Bounded() bool {
	return p.Count != nil
}

// Validate checks structural and semantic correctness. It is side-effect-free
// and must pass before a pattern is persisted or used for calculation.
func (p Pattern) Validate() error {
	switch p.Type {
	case TypeDaily, TypeWeekly, TypeMonthly, TypeYearly:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPattern, p.Type)
	}
	if p.Interval != nil && *p.Interval < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, *p.Interval)
	}
	if p.Count != nil && *p.Count < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, *p.Count)
	}
	return nil
}
