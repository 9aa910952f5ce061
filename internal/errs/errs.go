// Package errs defines the error taxonomy surfaced to API clients. Every
// user-visible failure is classified into a kind; handlers map kinds to the
// envelope code and an HTTP status.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a user-visible error.
type Kind string

const (
	NotFound        Kind = "not_found"
	InvalidRequest  Kind = "invalid_request"
	Conflict        Kind = "conflict"
	UpstreamFailure Kind = "upstream_failure"
	UpstreamTimeout Kind = "upstream_timeout"
	Canceled        Kind = "canceled"
	StorageFailure  Kind = "storage_failure"
	Internal        Kind = "internal"
)

// Error carries a kind plus a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain. Plain context cancellation
// and deadline errors classify as canceled and upstream_timeout; anything
// unclassified is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamTimeout
	}
	return Internal
}

// Message returns the human-readable message without the kind prefix.
// Internal errors get a generic message; the detail stays in the logs.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// HTTPStatus maps a kind to the envelope code / HTTP status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case NotFound:
		return http.StatusNotFound
	case InvalidRequest:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case UpstreamFailure:
		return http.StatusBadGateway
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case Canceled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}
