// Package ratelimit provides token-bucket limiters backed by
// golang.org/x/time/rate. The asset router uses one to bound background
// revalidations, and the webhook dispatcher keeps one per webhook type.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket limiter.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a Limiter that permits rps events per second with the
// given burst size. A non-positive rps means unlimited.
func NewLimiter(rps float64, burst int) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Limiter{lim: rate.NewLimiter(limit, burst)}
}

// Allow reports whether a single event may happen now. A nil Limiter
// always allows.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.lim.Allow()
}

// Wait blocks until an event may happen or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}

// Keyed lazily creates one Limiter per key, all with the same rate.
type Keyed struct {
	rps   float64
	burst int

	mu   sync.Mutex
	lims map[string]*Limiter
}

// NewKeyed creates a Keyed limiter set.
func NewKeyed(rps float64, burst int) *Keyed {
	return &Keyed{rps: rps, burst: burst, lims: make(map[string]*Limiter)}
}

// For returns the limiter for key, creating it on first use.
func (k *Keyed) For(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if l, ok := k.lims[key]; ok {
		return l
	}
	l := NewLimiter(k.rps, k.burst)
	k.lims[key] = l
	return l
}

// Allow reports whether an event for key may happen now.
func (k *Keyed) Allow(key string) bool {
	if k == nil {
		return true
	}
	return k.For(key).Allow()
}
