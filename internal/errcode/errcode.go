// Package errcode defines the coded errors surfaced by the memory service.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class.
type Code string

const (
	// CodeUnauthorized indicates a missing or invalid API key.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeForbidden indicates a valid key without the required role.
	CodeForbidden Code = "FORBIDDEN"
	// CodeInvalidArgument indicates malformed input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeNotFound indicates a missing resource such as a backup archive.
	CodeNotFound Code = "NOT_FOUND"
	// CodeRateLimited indicates the per-key limiter rejected the request.
	CodeRateLimited Code = "RATE_LIMITED"
	// CodeStorage indicates a disk or database failure.
	CodeStorage Code = "STORAGE_ERROR"
	// CodeProviderUnavailable indicates a relevance or embedding provider failure.
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	// CodeTimeout indicates a bounded call ran out of time.
	CodeTimeout Code = "TIMEOUT"
	// CodeInternal is the catch-all.
	CodeInternal Code = "INTERNAL"
)

// Error is a structured error carrying a code and optional context.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Unauthorized creates an authentication error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// Forbidden creates an authorization error.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// InvalidArgument creates a validation error.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// RateLimited creates a rate limit error.
func RateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimited, Message: msg}
}

// Storage wraps a persistence failure.
func Storage(msg string, cause error) *Error {
	return &Error{Code: CodeStorage, Message: msg, Cause: cause}
}

// ProviderUnavailable wraps a provider failure.
func ProviderUnavailable(provider string, cause error) *Error {
	return &Error{Code: CodeProviderUnavailable, Message: provider + " unavailable", Cause: cause}
}

// Timeout wraps a deadline failure.
func Timeout(msg string, cause error) *Error {
	return &Error{Code: CodeTimeout, Message: msg, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error to its HTTP status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
