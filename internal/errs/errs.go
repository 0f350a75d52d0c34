// File: internal/errs/errs.go
// Package errs defines the interaction failure taxonomy shared by the
// locator, the state machine and the recovery controller. Every failure
// that crosses a component boundary is wrapped in an *Error carrying one
// of the kinds below, so classification never depends on string matching.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind enumerates the failure categories the recovery controller knows
// how to classify.
type Kind int

const (
	// KindFatal is the zero value on purpose: anything unclassified is
	// treated as fatal and never retried locally.
	KindFatal Kind = iota
	// KindNotFound means every candidate strategy for a field was
	// exhausted within the probe budget.
	KindNotFound
	// KindStale means a previously resolved handle was detached from the
	// document between resolution and use.
	KindStale
	// KindTimeout means a probe or navigation deadline elapsed.
	KindTimeout
	// KindValidationMismatch means the value read back from an element
	// disagrees with the intended value after normalization.
	KindValidationMismatch
	// KindAuthenticationLost means the session is no longer logged in.
	KindAuthenticationLost
	// KindRateLimited means the target started throttling or blocking us.
	KindRateLimited
)

// String returns the snake_case name used in logs and attempt records.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindStale:
		return "stale"
	case KindTimeout:
		return "timeout"
	case KindValidationMismatch:
		return "validation_mismatch"
	case KindAuthenticationLost:
		return "authentication_lost"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// Error is the concrete error type carried across component boundaries.
type Error struct {
	Kind  Kind
	Op    string // the operation that failed, e.g. "locator.resolve"
	Field string // semantic field key, if the failure is field-scoped
	Err   error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Field != "" {
		msg = fmt.Sprintf("%s: field %q: %s", e.Op, e.Field, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error. Op is required; field may be empty for
// failures that are not scoped to a single form field.
func New(kind Kind, op, field string, err error) *Error {
	return &Error{Kind: kind, Op: op, Field: field, Err: err}
}

// NotFound reports selector-set exhaustion for a field.
func NotFound(op, field string, err error) *Error {
	return New(KindNotFound, op, field, err)
}

// Stale reports a detached element handle.
func Stale(op, field string, err error) *Error {
	return New(KindStale, op, field, err)
}

// Timeout reports an exceeded probe or navigation deadline.
func Timeout(op string, err error) *Error {
	return New(KindTimeout, op, "", err)
}

// ValidationMismatch reports a post-fill readback disagreement.
func ValidationMismatch(op, field string, err error) *Error {
	return New(KindValidationMismatch, op, field, err)
}

// AuthenticationLost reports a dropped login session.
func AuthenticationLost(op string, err error) *Error {
	return New(KindAuthenticationLost, op, "", err)
}

// RateLimited reports target-side throttling.
func RateLimited(op string, err error) *Error {
	return New(KindRateLimited, op, "", err)
}

// Fatal reports an unclassified unexpected state.
func Fatal(op string, err error) *Error {
	return New(KindFatal, op, "", err)
}

// KindOf classifies an arbitrary error. Taxonomy errors report their own
// kind; bare context deadline errors classify as Timeout because every
// suspension point in the engine is deadline-bound; everything else is
// Fatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindFatal
}

// IsKind reports whether err classifies as the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
