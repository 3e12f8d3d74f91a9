// Package apierr defines the closed error taxonomy shared by every core
// component. Services return these as values; only the HTTP boundary
// translates them into transport-specific responses.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is one of the fixed taxonomy members. New kinds are not added by
// callers — every failure a component can produce maps to one of these.
type Kind string

const (
	KindInvalidCard      Kind = "InvalidCard"
	KindUnauthenticated  Kind = "Unauthenticated"
	KindForbidden        Kind = "Forbidden"
	KindNotFound         Kind = "NotFound"
	KindInvalidCursor    Kind = "InvalidCursor"
	KindRateLimited      Kind = "RateLimited"
	KindOverloaded       Kind = "Overloaded"
	KindDeadlineExceeded Kind = "DeadlineExceeded"
	KindUpstream         Kind = "Upstream"
	KindConflict         Kind = "Conflict"
)

// FieldError is a single validation failure against one field path of a
// submitted Agent Card.
type FieldError struct {
	FieldPath string
	Reason    string
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.FieldPath, f.Reason)
}

// Error is the concrete type every taxonomy member is returned as.
type Error struct {
	Kind       Kind
	Message    string
	Fields     []FieldError // populated only for KindInvalidCard
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the error kind to the status code fixed by spec.md §7/§6.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidCard:
		return http.StatusUnprocessableEntity
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidCursor:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindOverloaded, KindUpstream:
		return http.StatusServiceUnavailable
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// New creates a bare taxonomy error with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a taxonomy error that preserves an underlying cause for %w
// unwrapping, without leaking the cause's text to callers that only read
// Message (handlers should read Message, operators read the wrapped chain
// via logs).
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// InvalidCard builds a KindInvalidCard error carrying the accumulated field
// errors from card validation.
func InvalidCard(fields []FieldError) *Error {
	return &Error{Kind: KindInvalidCard, Message: "agent card failed validation", Fields: fields}
}

// RateLimited builds a KindRateLimited error with a retry-after hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

// NotFound builds a KindNotFound error. Used uniformly for both "does not
// exist" and "exists but is invisible to this caller" per spec.md §7 —
// callers must never distinguish the two in a response.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

// Forbidden builds a KindForbidden error. Only used when the operation
// itself is disallowed for the caller's role/scope, never for record-level
// invisibility.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// Is reports whether err is an *Error of the given kind, including through
// wrapped chains.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
