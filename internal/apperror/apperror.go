// Package apperror defines the error taxonomy shared by repositories,
// services, and the HTTP layer. Every error that crosses a package boundary
// is an *Error with a Kind; the HTTP layer maps kinds to statuses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for logging, metrics, and HTTP mapping.
type Kind string

// Error kinds.
const (
	KindValidation      Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindExternal        Kind = "external"
	KindTimeout         Kind = "timeout"
	KindDatabase        Kind = "database"
	KindInternal        Kind = "internal"
)

// Error is the structured error carried across layers.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code for the error's kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindExternal:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrValidation reports malformed input or an invariant breach.
func ErrValidation(msg string, details map[string]interface{}) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

// ErrUnauthenticated reports a missing or invalid credential.
func ErrUnauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// ErrForbidden reports an authenticated but disallowed request.
func ErrForbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// ErrNotFound reports a missing resource. The same error is returned for
// resources outside the caller's tenant scope.
func ErrNotFound(resource string, id interface{}) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: map[string]interface{}{"id": fmt.Sprint(id)},
	}
}

// ErrConflict reports a duplicate unique key or a state-machine violation.
func ErrConflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// ErrRateLimited reports an exhausted quota.
func ErrRateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Message: msg}
}

// ErrExternal wraps an upstream (AI, embedding) failure.
func ErrExternal(msg string, err error) *Error {
	return &Error{Kind: KindExternal, Message: msg, cause: err}
}

// ErrTimeout reports an exceeded deadline.
func ErrTimeout(msg string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: msg, cause: err}
}

// ErrDatabase wraps a persistence layer failure.
func ErrDatabase(msg string, err error) *Error {
	return &Error{Kind: KindDatabase, Message: msg, cause: err}
}

// ErrInternal wraps an unexpected failure.
func ErrInternal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: err}
}

// KindOf extracts the kind from any error; unknown errors are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// As returns the *Error inside err, wrapping foreign errors as internal so
// the HTTP layer always has a structured error to render.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Message: "internal error", cause: err}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
