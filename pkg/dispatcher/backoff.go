package dispatcher

import "time"

// Delay returns the wait before retry number retryCount (1-based): the
// base doubled once per prior retry, bounded by max. Out-of-range retry
// counts clamp to the nearest bound.
func Delay(base, max time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 1 {
		retryCount = 1
	}

	// Shifting past 62 bits wraps negative; anything that far out is
	// capped anyway.
	if retryCount > 32 {
		return max
	}

	d := base << (retryCount - 1)
	if max > 0 && (d > max || d <= 0) {
		return max
	}
	return d
}

// Curve binds the configured base and cap into the retry-count-to-delay
// shape the store's attempt policy consumes.
func Curve(base, max time.Duration) func(int) time.Duration {
	return func(retryCount int) time.Duration {
		return Delay(base, max, retryCount)
	}
}
