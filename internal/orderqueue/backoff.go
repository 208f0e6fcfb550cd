package orderqueue

import "time"

// Backoff returns base * 2^(attempt-1), capped at max.
// Attempts below 1 return base.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return base
	}
	if attempt > 31 {
		return max
	}
	d := base * time.Duration(1<<(attempt-1))
	if d > max || d <= 0 {
		return max
	}
	return d
}
