package resilience

import (
	"math/rand"
	"time"
)

// maxBackoff caps a single wait between attempts.
const maxBackoff = 5 * time.Second

// Backoff returns the wait before attempt (1-based): base doubled per
// attempt, capped, then spread by ±jitter (a fraction, 0.2 is 20%).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	if jitter > 0 {
		spread := float64(d) * jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return d
}
