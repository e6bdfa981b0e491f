package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// BackoffLinear waits retry × BaseDelay before the given retry.
	BackoffLinear Backoff = iota
	// BackoffExponential waits BaseDelay × 2^(retry-1).
	BackoffExponential
)

// delay returns the wait before the given retry (1-indexed). The result is
// capped at cfg.MaxDelay when that is positive.
func delay(cfg Config, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	var d float64
	switch cfg.Backoff {
	case BackoffExponential:
		d = float64(cfg.BaseDelay) * math.Pow(2, float64(retry-1))
	default:
		d = float64(cfg.BaseDelay) * float64(retry)
	}
	if limit := float64(cfg.MaxDelay); limit > 0 && d > limit {
		d = limit
	}
	if cfg.Jitter > 0 {
		// jitter adds up to ±Jitter fraction of the delay.
		d += d * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
