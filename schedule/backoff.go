package schedule

import "time"

// ErrorBackoff maps a consecutive-failure count to the delay before the next
// retry fire. Monotonically non-decreasing staircase, clamped at one hour.
// The timer uses this to push a failing job's next_run_at forward instead of
// hot-looping retries.
func ErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors <= 0:
		return 0
	case consecutiveErrors == 1:
		return 30 * time.Second
	case consecutiveErrors == 2:
		return 60 * time.Second
	case consecutiveErrors == 3:
		return 300 * time.Second
	case consecutiveErrors == 4:
		return 900 * time.Second
	default:
		return 3600 * time.Second
	}
}
