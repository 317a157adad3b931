package errors

import (
	"fmt"
	"net/http"
)

// GatewayError is an error that terminates a request with a fixed status
// and a plain-text body.
type GatewayError struct {
	Code       int
	Message    string
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// Is matches two gateway errors by status and message so that wrapped
// copies of a sentinel still compare equal to it.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// Write writes the error as a text/plain response. The underlying cause is
// never exposed to the client.
func (e *GatewayError) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Code)
	w.Write([]byte(e.Message))
}

// Common errors
var (
	// ErrNotFound is returned when no configured route prefix matches.
	ErrNotFound = &GatewayError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	// ErrAuthServiceUnreachable is returned when the authorization service
	// could not be contacted.
	ErrAuthServiceUnreachable = &GatewayError{
		Code:    http.StatusServiceUnavailable,
		Message: "Failed to connect to Authorization API",
	}

	// ErrBackendUnreachable is returned when the resolved service could not
	// be contacted.
	ErrBackendUnreachable = &GatewayError{
		Code:    http.StatusServiceUnavailable,
		Message: "Failed to connect to downstream service",
	}

	ErrInternalServer = &GatewayError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

// WithCause returns a copy of e carrying err as its underlying cause.
func (e *GatewayError) WithCause(err error) *GatewayError {
	return &GatewayError{
		Code:       e.Code,
		Message:    e.Message,
		underlying: err,
	}
}
