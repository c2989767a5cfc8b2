package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Class partitions engine failures into the categories the orchestrator
// maps to caller-facing codes. Only Connection and Timeout are retryable.
type Class string

// Supported failure classes.
const (
	ClassConnection Class = "connection"
	ClassTimeout    Class = "timeout"
	ClassAuth       Class = "auth"
	ClassNotFound   Class = "not_found"
	ClassValidation Class = "validation"
	ClassUpstream   Class = "upstream"
)

// Error is a classified engine failure.
type Error struct {
	Class   Class
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("engine %s: %s: %s", e.Op, e.Class, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("engine %s: %s: %v", e.Op, e.Class, e.Err)
	}
	return fmt.Sprintf("engine %s: %s", e.Op, e.Class)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf extracts the failure class from an error chain.
func ClassOf(err error) (Class, bool) {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Class, true
	}
	return "", false
}

// IsTransient reports whether the error may succeed on retry.
func IsTransient(err error) bool {
	class, ok := ClassOf(err)
	return ok && (class == ClassConnection || class == ClassTimeout)
}

// classifyStatus maps an HTTP response code to a failure class.
func classifyStatus(code int) Class {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ClassAuth
	case code == http.StatusNotFound:
		return ClassNotFound
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ClassTimeout
	case code >= 400 && code < 500:
		return ClassValidation
	default:
		return ClassUpstream
	}
}

// classifyTransport maps a transport-level error to a failure class. Any
// deadline signal becomes a timeout regardless of how the transport
// reported it.
func classifyTransport(err error) Class {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	return ClassConnection
}
