package mailerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so the HTTP layer can pick a status code
// without knowing where the error came from.
type Kind string

const (
	// KindNotAuthenticated means the session has not been established yet.
	KindNotAuthenticated Kind = "not_authenticated"

	// KindUnauthorized means the upstream provider rejected the credential.
	KindUnauthorized Kind = "unauthorized"

	// KindUpstreamUnavailable covers network faults and upstream service errors.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindValidation means caller supplied content is malformed.
	KindValidation Kind = "validation_error"

	// KindInvalidArgument means a parameter is out of range or unparsable.
	KindInvalidArgument Kind = "invalid_argument"
)

// Error is the single error type surfaced by the credential holder and the
// mail gateway client.
type Error struct {
	Kind    Kind   // Failure classification
	Message string // Human-readable description, safe to return to callers
	Err     error  // Underlying cause, never returned to callers
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This makes
// errors.Is(err, mailerr.ErrNotAuthenticated) work for any wrapped instance.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// New creates a new error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Sentinels for errors.Is comparisons. They carry only a kind.
var (
	ErrNotAuthenticated    = &Error{Kind: KindNotAuthenticated}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
)

// KindOf returns the kind of err, or KindUpstreamUnavailable when err does
// not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstreamUnavailable
}

// MessageOf returns the caller-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "upstream request failed"
}

// HTTPStatus maps a kind to the status code the HTTP boundary returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotAuthenticated, KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation, KindInvalidArgument:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
