package recurrence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestPatternValidate(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
		wantErr error
	}{
		{
			name:    "daily with defaults",
			pattern: Pattern{Type: TypeDaily},
		},
		{
			name:    "weekly with interval",
			pattern: Pattern{Type: TypeWeekly, Interval: intp(2)},
		},
		{
			name:    "monthly bounded",
			pattern: Pattern{Type: TypeMonthly, Interval: intp(1), Count: intp(12)},
		},
		{
			name:    "yearly",
			pattern: Pattern{Type: TypeYearly},
		},
		{
			name:    "unknown type",
			pattern: Pattern{Type: Type("fortnightly")},
			wantErr: ErrInvalidPattern,
		},
		{
			name:    "empty type",
			pattern: Pattern{},
			wantErr: ErrInvalidPattern,
		},
		{
			name:    "explicit zero interval",
			pattern: Pattern{Type: TypeDaily, Interval: intp(0)},
			wantErr: ErrInvalidInterval,
		},
		{
			name:    "negative interval",
			pattern: Pattern{Type: TypeWeekly, Interval: intp(-3)},
			wantErr: ErrInvalidInterval,
		},
		{
			name:    "zero count",
			pattern: Pattern{Type: TypeDaily, Count: intp(0)},
			wantErr: ErrInvalidCount,
		},
		{
			name:    "negative count",
			pattern: Pattern{Type: TypeMonthly, Count: intp(-1)},
			wantErr: ErrInvalidCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pattern.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPatternDefaults(t *testing.T) {
	p := Pattern{Type: TypeDaily}
	assert.Equal(t, 1, p.EffectiveInterval())
	assert.False(t, p.Bounded())

	p = Pattern{Type: TypeDaily, Interval: intp(4), Count: intp(10)}
	assert.Equal(t, 4, p.EffectiveInterval())
	assert.True(t, p.Bounded())
}

func TestPatternJSONRoundTrip(t *testing.T) {
	// An absent interval must stay absent, not become zero.
	var p Pattern
	require.NoError(t, json.Unmarshal([]byte(`{"type":"daily"}`), &p))
	assert.Nil(t, p.Interval)
	assert.Nil(t, p.Count)
	assert.NoError(t, p.Validate())

	// An explicit zero must survive decoding and then fail validation.
	var q Pattern
	require.NoError(t, json.Unmarshal([]byte(`{"type":"daily","interval":0}`), &q))
	require.NotNil(t, q.Interval)
	assert.ErrorIs(t, q.Validate(), ErrInvalidInterval)

	out, err := json.Marshal(Pattern{Type: TypeWeekly, Interval: intp(2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"weekly","interval":2}`, string(out))
}
