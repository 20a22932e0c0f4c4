// Package dErrors provides coded domain errors.
//
// Services return these so transport can map them to stable responses without
// string matching. Stores return pkg/platform/sentinel errors instead;
// services translate at the boundary.
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and audit records.
type Code string

const (
	// CodeUnauthenticated covers missing, malformed, or expired identity tokens.
	CodeUnauthenticated Code = "unauthenticated"
	// CodePartyUnresolved means the caller is authenticated but has no tenant
	// mapping yet. Deliberately distinct from CodeUnauthenticated: the caller
	// is logged in, just not provisioned.
	CodePartyUnresolved Code = "party_unresolved"
	// CodeNotFound covers both genuinely absent resources and ownership
	// denials, which are surfaced identically so a caller cannot probe for
	// the existence of another party's records.
	CodeNotFound Code = "not_found"
	// CodeForbidden covers role denials that are safe to reveal (the caller
	// already knows the operation exists, e.g. an operator-only transition).
	CodeForbidden Code = "forbidden"
	// CodeInvalidTransition is a state-machine rule violation. Safe to expose
	// with current and requested states.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeUnavailable means an external collaborator stayed down through the
	// bounded retries. Retrying later is useful.
	CodeUnavailable Code = "unavailable"
	// CodeValidation covers malformed or incomplete input.
	CodeValidation Code = "validation_failed"
	// CodeConflict covers uniqueness violations.
	CodeConflict Code = "conflict"
	// CodeInvariantViolation marks a broken model invariant; callers usually
	// translate it to CodeValidation or CodeConflict at the API edge.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInternal is everything we will not explain to the caller.
	CodeInternal Code = "internal_error"
)

// Error is a domain error carrying a stable code and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-safe message of err, or empty for uncoded errors.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
