// Package errs defines the controller-wide error taxonomy and its HTTP mapping.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy and HTTP status mapping.
type Kind string

const (
	KindBadRequest  Kind = "bad_request"
	KindNotFound    Kind = "not_found"
	KindSession     Kind = "session"
	KindRuntime     Kind = "runtime"
	KindCompilation Kind = "compilation"
	KindStore       Kind = "store"
	KindCache       Kind = "cache"
	KindConfig      Kind = "config"
	KindInternal    Kind = "internal"
)

// Error carries a kind alongside a message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a typed error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error around a cause. A nil cause returns nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// BadRequest is shorthand for New(KindBadRequest, ...).
func BadRequest(format string, args ...any) *Error { return New(KindBadRequest, format, args...) }

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

// Runtime is shorthand for New(KindRuntime, ...).
func Runtime(format string, args ...any) *Error { return New(KindRuntime, format, args...) }

// Internal is shorthand for New(KindInternal, ...).
func Internal(format string, args ...any) *Error { return New(KindInternal, format, args...) }

// KindOf returns the kind of err, unwrapping as needed.
// Untyped errors map to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest, KindSession:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
