package pager

import (
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before retrying after the given failed attempt
// (1-based): base * 2^(attempt-1) with ±25% jitter, capped at maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			delay = maxDelay
			break
		}
	}

	// ±25% jitter
	jitterRange := int64(float64(delay) * 0.25)
	if jitterRange > 0 {
		delay += time.Duration(rand.Int64N(2*jitterRange) - jitterRange)
	}

	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
