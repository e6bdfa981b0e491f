// Package retry executes data operations against the backend while masking
// transient authentication hiccups: an operation that fails with an auth
// error is retried after the token is refreshed, with a growing delay
// between attempts.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Keksclan/edgecache/metrics"
	"github.com/Keksclan/edgecache/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxRetries is the retry budget used by [DefaultConfig].
const DefaultMaxRetries = 3

// Refresher mints a fresh token. Returning an error or an empty token
// abandons the remaining retries.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RefresherFunc adapts a function to [Refresher].
type RefresherFunc func(ctx context.Context) (string, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context) (string, error) { return f(ctx) }

// Config controls the behaviour of [Do].
type Config struct {
	// MaxRetries is the maximum number of retries after the first attempt.
	// Zero disables retries.
	MaxRetries int

	// BaseDelay is the delay unit. The n-th retry waits n × BaseDelay with
	// BackoffLinear, or BaseDelay × 2^(n-1) with BackoffExponential.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds randomness to the delay. A value of 0.2 means ±20 % of
	// the computed delay. Zero disables jitter.
	Jitter float64

	// Backoff selects the delay curve.
	Backoff Backoff

	// RetryTransient also retries KindTransient failures (without a token
	// refresh). When false they surface after the first attempt.
	RetryTransient bool

	// DisableTextHeuristic turns off message matching for errors that carry
	// no structured kind, so they are treated as fatal.
	DisableTextHeuristic bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracing *tracing.Config
}

// DefaultConfig returns three retries with a linear 500 ms step.
func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Backoff:    BackoffLinear,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// retry budget is exhausted. Before each auth retry the token is refreshed
// through r; a failed refresh (or a nil r) abandons the remaining retries.
//
// label names the operation in logs, metrics and spans. The returned error,
// when non-nil, is always an [*Error].
func Do[T any](ctx context.Context, cfg Config, r Refresher, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	log := cfg.logger().With("operation", label)
	retries := max(cfg.MaxRetries, 0)

	for attempt := 0; ; attempt++ {
		actx, span := cfg.Tracing.Start(ctx, "retry."+label, attribute.Int("attempt", attempt+1))
		result, err := op(actx)
		if err == nil {
			tracing.End(span, nil)
			cfg.Metrics.RetryAttempt(label, "success")
			return result, nil
		}
		tracing.End(span, err)

		kind := Classify(err, !cfg.DisableTextHeuristic)
		remaining := retries - attempt
		cfg.Metrics.RetryAttempt(label, kind.String())

		fail := func(o Outcome, refreshErr error) (T, error) {
			log.Warn("operation failed", "outcome", o.String(), "attempts", attempt+1, "error", err)
			return zero, &Error{Label: label, Outcome: o, Attempts: attempt + 1, Err: err, RefreshErr: refreshErr}
		}

		switch kind {
		case KindAuth:
			if remaining <= 0 {
				return fail(Outcome{Kind: OutcomeAuthFailure}, nil)
			}
			if r == nil {
				return fail(Outcome{Kind: OutcomeAuthFailure, RetriesRemaining: remaining}, nil)
			}
			tok, rerr := r.Refresh(ctx)
			if rerr == nil && tok == "" {
				rerr = ErrNoToken
			}
			if rerr != nil {
				return fail(Outcome{Kind: OutcomeAuthFailure, RetriesRemaining: remaining}, rerr)
			}
			log.Debug("token refreshed, retrying", "attempt", attempt+1, "error", err)
		case KindTransient:
			if !cfg.RetryTransient || remaining <= 0 {
				return fail(Outcome{Kind: OutcomeTransientFailure}, nil)
			}
			log.Debug("transient failure, retrying", "attempt", attempt+1, "error", err)
		default:
			return fail(Outcome{Kind: OutcomeFatalFailure, Reason: err.Error()}, nil)
		}

		timer := time.NewTimer(delay(cfg, attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &Error{Label: label, Outcome: Outcome{Kind: OutcomeFatalFailure, Reason: "cancelled"}, Attempts: attempt + 1, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}
