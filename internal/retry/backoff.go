// Package retry holds the pure retry/backoff policy for failed task attempts.
package retry

import "time"

const (
	baseDelay = 15 * time.Second
	capDelay  = 180 * time.Second
)

// Backoff returns the delay before a task's next attempt becomes eligible:
// exponential from 15s, doubling per attempt, capped at 180s. Attempt counts
// start at 1.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= capDelay {
			return capDelay
		}
	}
	if d > capDelay {
		return capDelay
	}
	return d
}

// Retryable reports whether another attempt is allowed.
func Retryable(attempts, maxAttempts int) bool {
	return attempts < maxAttempts
}
