// Package derrors defines the domain error taxonomy shared by services and
// transports. Services return *Error values so callers can branch on the kind
// of failure instead of string-matching; the HTTP layer translates codes to
// statuses in one place.
package derrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure kind. Codes are part of the API surface: they are
// returned verbatim in the error envelope.
type Code string

const (
	CodeValidation   Code = "validation_error"
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"

	// CodeChainConflict signals a concurrent append on the same subject chain.
	// The append (not the whole business operation) is safe to retry.
	CodeChainConflict Code = "chain_conflict"

	// CodeIdempotencyConflict signals an idempotency key reused with a
	// different payload. Never merged silently.
	CodeIdempotencyConflict Code = "idempotency_conflict"

	// CodeIdempotencyInProgress signals a duplicate request while the first
	// execution for the same key is still running.
	CodeIdempotencyInProgress Code = "idempotency_in_progress"

	// CodeIntegrityViolation signals a recomputed hash or root diverging from
	// the stored value. Never auto-corrected; dependent operations must halt.
	CodeIntegrityViolation Code = "integrity_violation"

	// CodeNotarizationTransient covers network errors, timeouts and QTSP 5xx
	// responses. Retried automatically with backoff.
	CodeNotarizationTransient Code = "notarization_transient"

	// CodeNotarizationPermanent covers malformed digests and QTSP 4xx
	// responses. Requires manual intervention.
	CodeNotarizationPermanent Code = "notarization_permanent"

	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal_error"
)

// Error carries a Code alongside the message and an optional wrapped cause.
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

// Is makes errors.Is match two *Error values by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New builds a domain error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(cause error, code Code, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the domain code from err, or CodeInternal if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ToHTTPStatus maps a domain code to an HTTP status for the transport layer.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeChainConflict, CodeIdempotencyInProgress, CodeIntegrityViolation:
		return http.StatusConflict
	case CodeIdempotencyConflict:
		return http.StatusUnprocessableEntity
	case CodeNotarizationPermanent:
		return http.StatusBadGateway
	case CodeNotarizationTransient, CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
