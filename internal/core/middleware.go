// Package core holds wiring helpers shared by the composition root.
package core

import (
	"cmp"
	"net/http"
	"slices"
)

// middleware is a single HTTP middleware with a deterministic execution
// order. Lower Order values run first (outermost).
type middleware struct {
	Wrap  func(http.Handler) http.Handler
	Order int
}

// MiddlewareBuilder collects middleware entries and applies them in order.
type MiddlewareBuilder struct {
	entries []middleware
}

// Add registers a middleware with the given order. A nil wrap is ignored.
func (b *MiddlewareBuilder) Add(order int, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		return
	}
	b.entries = append(b.entries, middleware{Wrap: wrap, Order: order})
}

// Len returns the number of registered middlewares.
func (b *MiddlewareBuilder) Len() int {
	return len(b.entries)
}

// Build sorts the collected middleware by Order (stable) and wraps h so
// that the lowest order sees the request first.
func (b *MiddlewareBuilder) Build(h http.Handler) http.Handler {
	sorted := slices.Clone(b.entries)
	slices.SortStableFunc(sorted, func(a, c middleware) int {
		return cmp.Compare(a.Order, c.Order)
	})
	for i := len(sorted) - 1; i >= 0; i-- {
		h = sorted[i].Wrap(h)
	}
	return h
}
