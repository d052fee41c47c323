// Package retry holds the fixed retry and grace policy for failed payments.
// It only answers questions; charging again is the processor's dunning or an
// explicit admin action.
package retry

import "time"

type Policy struct {
	MaxAttempts     int
	DelayDays       int
	GracePeriodDays int
}

// Default is the single authoritative schedule: three attempts, three days
// apart, seven days of grace after a failure.
var Default = Policy{MaxAttempts: 3, DelayDays: 3, GracePeriodDays: 7}

// Normalize fills zero fields from Default.
func (p Policy) Normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = Default.MaxAttempts
	}
	if p.DelayDays <= 0 {
		p.DelayDays = Default.DelayDays
	}
	if p.GracePeriodDays <= 0 {
		p.GracePeriodDays = Default.GracePeriodDays
	}
	return p
}

func (p Policy) IsExhausted(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}

// ShouldProcessRetry reports whether another automatic attempt is allowed at now.
// A zero lastAttempt means no attempt has been made yet.
func (p Policy) ShouldProcessRetry(retryCount int, lastAttempt, now time.Time) bool {
	if retryCount < 0 || p.IsExhausted(retryCount) {
		return false
	}
	if lastAttempt.IsZero() {
		return true
	}
	return !now.Before(p.NextRetryAt(lastAttempt))
}

func (p Policy) NextRetryAt(lastAttempt time.Time) time.Time {
	return lastAttempt.AddDate(0, 0, p.DelayDays)
}

func (p Policy) GracePeriodEnd(failedAt time.Time) time.Time {
	return failedAt.AddDate(0, 0, p.GracePeriodDays)
}
