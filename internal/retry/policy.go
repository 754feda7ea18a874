// Package retry owns the event status state machine and the retry decision taken when
// a job attempt fails.
package retry

import "time"

// Policy bounds retries with exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy retries up to 5 times after 1, 2, 4, 8 and 16 seconds.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: time.Second}
}

// Delay returns how long to wait before re-running a job whose attempt number
// `attempt` just failed: BaseDelay * 2^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// Exhausted reports whether a failure at attempt leaves no retries.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
