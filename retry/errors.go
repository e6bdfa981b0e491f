package retry

import (
	"errors"
	"strconv"

	"go.trai.ch/zerr"
)

// ErrNoToken is reported when the refresher produced an empty token, e.g.
// because the user signed out.
var ErrNoToken = zerr.New("no token available")

// OutcomeKind tags a RequestOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeAuthFailure
	OutcomeTransientFailure
	OutcomeFatalFailure
)

// Outcome is the result of an attempt: Success, AuthFailure(retriesRemaining),
// TransientFailure(retriesRemaining) or FatalFailure(reason).
type Outcome struct {
	Kind             OutcomeKind
	RetriesRemaining int
	Reason           string
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeTransientFailure:
		return "transient_failure"
	default:
		return "fatal_failure"
	}
}

// Error is returned by [Do] when an operation ultimately fails.
type Error struct {
	Label      string
	Outcome    Outcome
	Attempts   int
	Err        error
	RefreshErr error
}

func (e *Error) Error() string {
	msg := e.Label + ": " + e.Outcome.String() + " after " + strconv.Itoa(e.Attempts) + " attempt(s): " + e.Err.Error()
	if e.RefreshErr != nil {
		msg += " (token refresh: " + e.RefreshErr.Error() + ")"
	}
	return msg
}

// Unwrap exposes both the operation error and the refresh error.
func (e *Error) Unwrap() []error {
	if e.RefreshErr != nil {
		return []error{e.Err, e.RefreshErr}
	}
	return []error{e.Err}
}

// User-facing messages. They never include backend or auth details.
const (
	MessageRefresh      = "Please refresh the page to continue."
	MessageTryAgain     = "Something went wrong. Please try again."
	MessageConnectivity = "We're having trouble connecting. Please check your connection and try again."
)

// UserMessage returns the generic text to show for err.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return MessageRefresh
	}
	switch e.Outcome.Kind {
	case OutcomeAuthFailure:
		return MessageTryAgain
	case OutcomeTransientFailure:
		return MessageConnectivity
	default:
		return MessageRefresh
	}
}
