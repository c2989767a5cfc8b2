package analysis

import (
	"errors"
	"net/http"
)

// Code is a stable machine-readable error code surfaced to callers.
type Code string

// Caller-facing error codes. These are a contract boundary: the mapping
// from engine failure classes to codes is fixed.
const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeExternalService Code = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout         Code = "TIMEOUT_ERROR"
	CodeExternalAuth    Code = "EXTERNAL_AUTH_ERROR"
	CodeNotFound        Code = "ANALYSIS_NOT_FOUND"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// Error is a caller-facing failure with a stable code and a human-readable
// message. No internal identifiers or stack traces leak through it.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// NewError builds a caller-facing error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches an internal cause for logs without exposing it.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the code to its HTTP equivalent.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeNotFound:
		return http.StatusNotFound
	case CodeExternalService, CodeExternalAuth:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts a caller-facing error from an error chain.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
