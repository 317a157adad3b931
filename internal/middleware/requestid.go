package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// HeaderRequestID carries the correlation identifier to backends.
const HeaderRequestID = "X-Request-Id"

// Correlation scopes
const (
	// ScopeConnection shares one identifier across every request of a
	// connection.
	ScopeConnection = "connection"
	// ScopeRequest generates a fresh identifier for each request.
	ScopeRequest = "request"
)

// NewID returns a new random correlation identifier.
func NewID() string {
	return uuid.New().String()
}

type connIDKey struct{}

// requestIDKey is the context key for the request correlation id
type requestIDKey struct{}

// ConnContext returns an http.Server.ConnContext hook that assigns a
// correlation identifier to each accepted connection. onAccept, when set,
// is called once with the identifier and the connection.
func ConnContext(onAccept func(id string, c net.Conn)) func(context.Context, net.Conn) context.Context {
	return func(ctx context.Context, c net.Conn) context.Context {
		id := NewID()
		if onAccept != nil {
			onAccept(id, c)
		}
		return WithConnectionID(ctx, id)
	}
}

// WithConnectionID adds a connection identifier to the context
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnectionIDFromContext extracts the connection identifier from context
func ConnectionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(connIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestID creates a middleware that stores the correlation identifier in
// the request context. With ScopeConnection the connection identifier is
// reused; a request without one (or ScopeRequest) gets a fresh identifier.
// Inbound X-Request-Id headers are never trusted.
func RequestID(scope string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if scope != ScopeRequest {
				id = ConnectionIDFromContext(r.Context())
			}
			if id == "" {
				id = NewID()
			}
			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
		})
	}
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
