package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextDate(t *testing.T) {
	tests := []struct {
		name    string
		anchor  time.Time
		pattern Pattern
		want    time.Time
	}{
		{
			name:    "daily default interval",
			anchor:  date(2024, time.January, 1),
			pattern: Pattern{Type: TypeDaily},
			want:    date(2024, time.January, 2),
		},
		{
			name:    "daily interval 2",
			anchor:  date(2024, time.January, 1),
			pattern: Pattern{Type: TypeDaily, Interval: intp(2)},
			want:    date(2024, time.January, 3),
		},
		{
			name:    "daily across month boundary",
			anchor:  date(2024, time.January, 31),
			pattern: Pattern{Type: TypeDaily},
			want:    date(2024, time.February, 1),
		},
		{
			name:    "weekly",
			anchor:  date(2024, time.March, 4),
			pattern: Pattern{Type: TypeWeekly},
			want:    date(2024, time.March, 11),
		},
		{
			name:    "weekly interval 3",
			anchor:  date(2024, time.March, 4),
			pattern: Pattern{Type: TypeWeekly, Interval: intp(3)},
			want:    date(2024, time.March, 25),
		},
		{
			name:    "monthly plain",
			anchor:  date(2024, time.April, 15),
			pattern: Pattern{Type: TypeMonthly},
			want:    date(2024, time.May, 15),
		},
		{
			name:    "monthly jan 31 clamps to leap feb 29",
			anchor:  date(2024, time.January, 31),
			pattern: Pattern{Type: TypeMonthly},
			want:    date(2024, time.February, 29),
		},
		{
			name:    "monthly jan 31 clamps to feb 28",
			anchor:  date(2025, time.January, 31),
			pattern: Pattern{Type: TypeMonthly},
			want:    date(2025, time.February, 28),
		},
		{
			name:    "monthly may 31 clamps to june 30",
			anchor:  date(2024, time.May, 31),
			pattern: Pattern{Type: TypeMonthly},
			want:    date(2024, time.June, 30),
		},
		{
			name:    "monthly interval across year boundary",
			anchor:  date(2024, time.November, 30),
			pattern: Pattern{Type: TypeMonthly, Interval: intp(3)},
			want:    date(2025, time.February, 28),
		},
		{
			name:    "yearly",
			anchor:  date(2024, time.June, 10),
			pattern: Pattern{Type: TypeYearly},
			want:    date(2025, time.June, 10),
		},
		{
			name:    "yearly feb 29 clamps to feb 28",
			anchor:  date(2024, time.February, 29),
			pattern: Pattern{Type: TypeYearly},
			want:    date(2025, time.February, 28),
		},
		{
			name:    "yearly feb 29 lands on leap year",
			anchor:  date(2024, time.February, 29),
			pattern: Pattern{Type: TypeYearly, Interval: intp(4)},
			want:    date(2028, time.February, 29),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextDate(tt.anchor, tt.pattern)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNextDateIsStrictlyAfterAnchor(t *testing.T) {
	anchors := []time.Time{
		date(2024, time.January, 1),
		date(2024, time.January, 31),
		date(2024, time.February, 29),
		date(2024, time.December, 31),
	}
	patterns := []Pattern{
		{Type: TypeDaily},
		{Type: TypeWeekly},
		{Type: TypeMonthly},
		{Type: TypeYearly},
		{Type: TypeDaily, Interval: intp(7)},
		{Type: TypeMonthly, Interval: intp(6)},
	}

	for _, anchor := range anchors {
		for _, p := range patterns {
			got := NextDate(anchor, p)
			assert.True(t, got.After(anchor),
				"%s + %s/%d should advance, got %s", anchor, p.Type, p.EffectiveInterval(), got)
		}
	}
}

func TestNextDatePreservesClockAndLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	anchor := time.Date(2024, time.January, 31, 9, 30, 15, 0, loc)

	got := NextDate(anchor, Pattern{Type: TypeMonthly})

	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, 30, got.Minute())
	assert.Equal(t, 15, got.Second())
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 29, got.Day()) // 2024 is a leap year
}

func TestNextDateIsDeterministic(t *testing.T) {
	anchor := date(2024, time.January, 31)
	p := Pattern{Type: TypeMonthly, Interval: intp(2)}

	first := NextDate(anchor, p)
	for i := 0; i < 10; i++ {
		assert.True(t, NextDate(anchor, p).Equal(first))
	}
}
