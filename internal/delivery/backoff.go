package delivery

import (
	"math/rand/v2"
	"time"
)

// backoffDelay calculates exponential backoff for the given attempt number
// (1-based), capped at the ceiling.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		attempt = 32
	}
	delay := base << uint(attempt-1)
	if delay <= 0 || delay > ceiling {
		delay = ceiling
	}
	return delay
}

// withJitter spreads a delay by ±20% so many subscribers failing at once do
// not retry in lockstep.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	factor := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * factor)
}
