package council

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the stage-level failure taxonomy. Per-member
// failures are recorded on the MemberResponse and never abort a session
// by themselves.
var (
	// ErrConfiguration marks an invalid council configuration, fatal
	// before Stage 1 starts.
	ErrConfiguration = errors.New("invalid council configuration")

	// ErrInsufficientQuorum means too few members succeeded in Stage 1.
	ErrInsufficientQuorum = errors.New("insufficient quorum")

	// ErrNoValidReviews means Stage 2 produced zero valid reviews while
	// rankings were required.
	ErrNoValidReviews = errors.New("no valid reviews")

	// ErrDeadlineExceeded means the global session deadline expired and
	// the remaining partial results did not meet quorum.
	ErrDeadlineExceeded = errors.New("council deadline exceeded")

	// ErrChairmanUnavailable means the Stage-3 chairman call failed or
	// timed out and no fallback policy was configured.
	ErrChairmanUnavailable = errors.New("chairman unavailable")
)

// MemberFailure records one member's failure for caller-side retry or
// fallback decisions.
type MemberFailure struct {
	Member string       `json:"member"`
	Stage  SessionState `json:"stage"`
	Reason string       `json:"reason"`
}

// SessionError is a stage-level failure with enough structured detail for
// the caller to decide on a retry or fallback. The engine itself never
// retries a failed member call.
type SessionError struct {
	// SessionID identifies the failed session.
	SessionID string

	// State is the stage the session was in when it failed.
	State SessionState

	// Failures lists the individual member failures that led here, when
	// relevant (e.g. the members that missed quorum).
	Failures []MemberFailure

	// Err is the underlying taxonomy error.
	Err error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "council session %s failed during %s: %v", e.SessionID, e.State, e.Err)
	if len(e.Failures) > 0 {
		names := make([]string, len(e.Failures))
		for i, f := range e.Failures {
			names[i] = f.Member
		}
		fmt.Fprintf(&b, " (failed members: %s)", strings.Join(names, ", "))
	}
	return b.String()
}

// Unwrap exposes the taxonomy sentinel for errors.Is.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// ErrorCode maps an error to its stable taxonomy code for API envelopes
// and audit records.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "CONFIGURATION_ERROR"
	case errors.Is(err, ErrInsufficientQuorum):
		return "INSUFFICIENT_QUORUM"
	case errors.Is(err, ErrNoValidReviews):
		return "NO_VALID_REVIEWS"
	case errors.Is(err, ErrDeadlineExceeded):
		return "DEADLINE_EXCEEDED"
	case errors.Is(err, ErrChairmanUnavailable):
		return "CHAIRMAN_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
