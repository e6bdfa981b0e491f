package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Keksclan/edgecache/ratelimit"
)

func TestLimiter_AllowUnderLimit(t *testing.T) {
	// burst=5 means the first 5 calls must succeed.
	l := ratelimit.NewLimiter(1, 5)
	for i := range 5 {
		if !l.Allow() {
			t.Fatalf("expected Allow() == true for event %d", i)
		}
	}
}

func TestLimiter_BlocksWhenBurstExhausted(t *testing.T) {
	l := ratelimit.NewLimiter(0.001, 2)

	l.Allow()
	l.Allow()

	if l.Allow() {
		t.Fatal("expected Allow() == false after burst exhausted")
	}
}

func TestLimiter_NonPositiveRateIsUnlimited(t *testing.T) {
	l := ratelimit.NewLimiter(0, 1)
	for i := range 100 {
		if !l.Allow() {
			t.Fatalf("event %d rejected by unlimited limiter", i)
		}
	}
}

func TestLimiter_NilAllows(t *testing.T) {
	var l *ratelimit.Limiter
	if !l.Allow() {
		t.Fatal("nil limiter must allow")
	}
	if err := l.Wait(t.Context()); err != nil {
		t.Fatalf("nil limiter Wait: %v", err)
	}
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := ratelimit.NewLimiter(0.001, 1)
	l.Allow()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected Wait to fail once the bucket is empty")
	} else if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected cancellation: %v", err)
	}
}

func TestKeyed_IndependentBuckets(t *testing.T) {
	k := ratelimit.NewKeyed(0.001, 1)

	if !k.Allow("resume") {
		t.Fatal("first resume event should pass")
	}
	if k.Allow("resume") {
		t.Fatal("second resume event should be limited")
	}
	if !k.Allow("letter") {
		t.Fatal("letter bucket must be independent of resume")
	}
	if k.For("resume") != k.For("resume") {
		t.Fatal("For must return the same limiter for a key")
	}
}
