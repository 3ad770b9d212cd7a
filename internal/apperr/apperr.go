// Package apperr defines the error taxonomy shared by the credential,
// notification and business-action services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and transport mapping.
type Kind string

const (
	// KindValidation marks malformed input. Never retried.
	KindValidation Kind = "validation"
	// KindNotFound marks a missing subject or record.
	KindNotFound Kind = "not_found"
	// KindConflict marks a uniqueness violation such as an email already in use.
	KindConflict Kind = "conflict"
	// KindAuthRejected marks bad credentials or an unusable token.
	KindAuthRejected Kind = "auth_rejected"
	// KindForbidden marks an authenticated caller lacking the required role.
	KindForbidden Kind = "forbidden"
	// KindUnavailable marks a dependency failure or timeout. Safe to retry.
	KindUnavailable Kind = "unavailable"
	// KindDelivery marks a best-effort delivery failure.
	KindDelivery Kind = "delivery"
	// KindInternal marks anything else.
	KindInternal Kind = "internal"
)

// Error carries a kind plus an operation-scoped code.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

// New constructs an Error for the operation and reason.
func New(kind Kind, op, reason string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code()
	}
	return fmt.Sprintf("%s: %v", e.Code(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns "<op>.<reason>".
func (e *Error) Code() string {
	if e.Op == "" {
		return e.Reason
	}
	if e.Reason == "" {
		return e.Op
	}
	return e.Op + "." + e.Reason
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code()
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(op, reason string, cause error) *Error {
	return New(KindValidation, op, reason, cause)
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(op, reason string, cause error) *Error {
	return New(KindNotFound, op, reason, cause)
}

// Conflict is shorthand for New(KindConflict, ...).
func Conflict(op, reason string, cause error) *Error {
	return New(KindConflict, op, reason, cause)
}

// AuthRejected is shorthand for New(KindAuthRejected, ...).
func AuthRejected(op, reason string, cause error) *Error {
	return New(KindAuthRejected, op, reason, cause)
}

// Forbidden is shorthand for New(KindForbidden, ...).
func Forbidden(op, reason string, cause error) *Error {
	return New(KindForbidden, op, reason, cause)
}

// Unavailable is shorthand for New(KindUnavailable, ...).
func Unavailable(op, reason string, cause error) *Error {
	return New(KindUnavailable, op, reason, cause)
}

// Delivery is shorthand for New(KindDelivery, ...).
func Delivery(op, reason string, cause error) *Error {
	return New(KindDelivery, op, reason, cause)
}

// Internal is shorthand for New(KindInternal, ...).
func Internal(op, reason string, cause error) *Error {
	return New(KindInternal, op, reason, cause)
}
