package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcessRetry(t *testing.T) {
	p := Default
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		count int
		last  time.Time
		now   time.Time
		want  bool
	}{
		{"first failure, never retried", 0, time.Time{}, last, true},
		{"inside delay window", 1, last, last.Add(48 * time.Hour), false},
		{"exactly at delay", 1, last, last.AddDate(0, 0, 3), true},
		{"after delay", 2, last, last.AddDate(0, 0, 10), true},
		{"cap reached", 3, last, last.AddDate(1, 0, 0), false},
		{"cap reached, no last attempt", 3, time.Time{}, last, false},
		{"over cap", 7, last, last.AddDate(0, 0, 30), false},
		{"negative count", -1, last, last.AddDate(0, 0, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldProcessRetry(tt.count, tt.last, tt.now))
		})
	}
}

func TestGraceAndNextRetry(t *testing.T) {
	p := Default
	failed := time.Date(2026, 2, 25, 8, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 4, 8, 30, 0, 0, time.UTC), p.GracePeriodEnd(failed))
	assert.Equal(t, time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC), p.NextRetryAt(failed))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Default, Policy{}.Normalize())
	assert.Equal(t, Policy{MaxAttempts: 5, DelayDays: 3, GracePeriodDays: 7}, Policy{MaxAttempts: 5}.Normalize())
	assert.True(t, Default.IsExhausted(3))
	assert.False(t, Default.IsExhausted(2))
}
