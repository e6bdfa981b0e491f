package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the structured failure class a backend error belongs to.
type Kind int

const (
	// KindFatal failures are never retried.
	KindFatal Kind = iota
	// KindAuth failures are retried after refreshing the token.
	KindAuth
	// KindTransient failures (network, timeout, 5xx) are retried when enabled.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Kinder is implemented by backend errors that declare their own class.
// Backends should return such errors; the message heuristic is a fallback.
type Kinder interface {
	Kind() Kind
}

// kindError attaches a Kind to an arbitrary error.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Kind() Kind    { return e.kind }

// WithKind tags err with k.
func WithKind(err error, k Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: k, err: err}
}

// AuthError tags err as an authentication failure.
func AuthError(err error) error { return WithKind(err, KindAuth) }

// TransientError tags err as a transient failure.
func TransientError(err error) error { return WithKind(err, KindTransient) }

// Deprecated fallback markers matched against lower-cased error messages
// when an error carries no structured kind.
var (
	authMarkers = []string{
		"jwt", "token", "session", "expired", "unauthorized", "unauthenticated",
		"permission denied", "permission_denied", "not authenticated", "401",
	}
	transientMarkers = []string{
		"timeout", "timed out", "connection refused", "connection reset",
		"network", "temporarily unavailable", "502", "503", "504",
	}
)

// Classify returns the Kind of err. Structured sources are consulted first:
// [Kinder], gRPC status codes, context deadlines and net.Error timeouts.
// When textFallback is true, unclassified errors are matched against the
// message markers above.
func Classify(err error, textFallback bool) Kind {
	if err == nil {
		return KindFatal
	}

	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return KindAuth
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return KindTransient
		default:
			return KindFatal
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}

	if textFallback {
		msg := strings.ToLower(err.Error())
		if containsAny(msg, authMarkers) {
			return KindAuth
		}
		if containsAny(msg, transientMarkers) {
			return KindTransient
		}
	}
	return KindFatal
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
