package queue

import (
	"math"
	"time"
)

// maxBackoff caps a single retry delay. With the default base of 2 and a
// 1s multiplier the cap is reached after 12 retries.
const maxBackoff = time.Hour

// Backoff returns the delay before retry attempt n (1-based):
// base^n * multiplier, capped at maxBackoff.
func Backoff(base float64, multiplier time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(math.Pow(base, float64(attempt)) * float64(multiplier))
	if d < 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
