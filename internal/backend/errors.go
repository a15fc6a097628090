package backend

import (
	"errors"
	"fmt"

	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
)

// Kind categorizes adapter errors. Both adapters map their native failures
// onto the same kinds so callers never branch on the backend.
type Kind string

const (
	// KindUnauthorized means the caller's credential is missing or expired.
	KindUnauthorized Kind = "UNAUTHORIZED"

	// KindForbidden means the caller is authenticated but the predicate
	// denied the operation. Reported to callers as not found.
	KindForbidden Kind = "FORBIDDEN"

	// KindNotFound means no row matched (or the row is not visible).
	KindNotFound Kind = "NOT_FOUND"

	// KindConstraint means a uniqueness, reference or check constraint failed.
	KindConstraint Kind = "CONSTRAINT_VIOLATION"

	// KindUnavailable means the store could not be reached. Retryable.
	KindUnavailable Kind = "BACKEND_UNAVAILABLE"

	// KindOverpayment means a payment would exceed the outstanding amount.
	KindOverpayment Kind = "OVERPAYMENT_REJECTED"

	// KindConflict means the row no longer held the values a conditional
	// update expected.
	KindConflict Kind = "CONFLICT"

	// KindInvalidInput means the request was malformed before reaching the store.
	KindInvalidInput Kind = "INVALID_INPUT"

	// KindSyncSkipped means the reconciler could not map an identity.
	// Internal to the reconciler; logged, never returned to callers.
	KindSyncSkipped Kind = "SYNC_SKIPPED"
)

// Error is the adapter error type.
type Error struct {
	Kind Kind

	// Table is the physical table involved, if any.
	Table string

	// Constraint and Columns identify a violated constraint.
	Constraint string
	Columns    []string

	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Table != "" {
		msg += " " + e.Table
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" (constraint=%s)", e.Constraint)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, identity.ErrUnauthorized) match unauthorized
// adapter errors, which is what identity.Keeper retries on.
func (e *Error) Is(target error) bool {
	return target == identity.ErrUnauthorized && e.Kind == KindUnauthorized
}

// Retryable reports whether the operation may succeed if repeated.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable
}

func kindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// KindOf returns the kind of an adapter error, or "" for other errors.
func KindOf(err error) Kind {
	k, _ := kindOf(err)
	return k
}

// IsNotFound reports whether err is NotFound or Forbidden. The two are
// deliberately indistinguishable to callers.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && (k == KindNotFound || k == KindForbidden)
}

// IsConstraint reports whether err is a constraint violation, optionally
// of one of the named constraints.
func IsConstraint(err error, names ...string) bool {
	var be *Error
	if !errors.As(err, &be) || be.Kind != KindConstraint {
		return false
	}
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if be.Constraint == n {
			return true
		}
	}
	return false
}

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized || errors.Is(err, identity.ErrUnauthorized)
}

// IsUnavailable reports whether the store could not be reached.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}

// IsOverpayment reports whether a payment was rejected for exceeding the balance.
func IsOverpayment(err error) bool {
	return KindOf(err) == KindOverpayment
}

// IsInvalidInput reports whether the request was rejected before the store.
func IsInvalidInput(err error) bool {
	return KindOf(err) == KindInvalidInput
}

// IsConflict reports whether a conditional update found the row changed.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// NotFound creates a NotFound error for table.
func NotFound(table string) *Error {
	return &Error{Kind: KindNotFound, Table: table, Message: "no matching row"}
}

// Forbidden creates a Forbidden error for table.
func Forbidden(table string, action string) *Error {
	return &Error{Kind: KindForbidden, Table: table, Message: action + " denied by policy"}
}

// Unauthorized wraps a credential failure.
func Unauthorized(err error) *Error {
	return &Error{Kind: KindUnauthorized, Err: err}
}

// Unavailable wraps a connectivity failure.
func Unavailable(err error) *Error {
	return &Error{Kind: KindUnavailable, Err: err}
}

// Invalid creates an InvalidInput error.
func Invalid(table, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Table: table, Message: fmt.Sprintf(format, args...)}
}

// Overpayment creates an OverpaymentRejected error.
func Overpayment(table string) *Error {
	return &Error{Kind: KindOverpayment, Table: table, Message: "payment exceeds outstanding amount"}
}

// Constraint creates a ConstraintViolation error.
func Constraint(table, name string, columns []string, err error) *Error {
	return &Error{Kind: KindConstraint, Table: table, Constraint: name, Columns: columns, Err: err}
}

// Conflict creates a Conflict error naming the columns that differed.
func Conflict(table string, columns []string) *Error {
	return &Error{Kind: KindConflict, Table: table, Columns: columns, Message: "row changed since it was read"}
}
