package serial

import "time"

// MaxBackoff caps the delay between reconnection attempts.
const MaxBackoff = 30 * time.Second

// Backoff returns the delay before reconnection attempt n (starting at 1):
// base doubled for every previous attempt, capped at MaxBackoff.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxBackoff || delay <= 0 {
			return MaxBackoff
		}
	}

	return min(delay, MaxBackoff)
}
