package utils

import "time"

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// BackoffDelay returns the exponential delay to sleep before retry attempt n
// (1-based): 100ms, 200ms, 400ms, ... capped at 5s.
func BackoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
