package middleware

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDConnectionScope(t *testing.T) {
	var got string
	handler := RequestID(ScopeConnection)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req = req.WithContext(WithConnectionID(req.Context(), "conn-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "conn-1" {
		t.Errorf("expected connection id conn-1, got %q", got)
	}
}

func TestRequestIDRequestScope(t *testing.T) {
	var got string
	handler := RequestID(ScopeRequest)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req = req.WithContext(WithConnectionID(req.Context(), "conn-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == "" || got == "conn-1" {
		t.Errorf("expected a fresh id, got %q", got)
	}
}

func TestRequestIDWithoutConnection(t *testing.T) {
	var got string
	handler := RequestID(ScopeConnection)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == "" {
		t.Error("expected a generated id")
	}
}

func TestRequestIDIgnoresInboundHeader(t *testing.T) {
	var got string
	handler := RequestID(ScopeRequest)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(HeaderRequestID, "client-chosen")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == "client-chosen" {
		t.Error("inbound X-Request-Id must not be trusted")
	}
}

func TestConnContext(t *testing.T) {
	var acceptedID string
	var calls int
	hook := ConnContext(func(id string, c net.Conn) {
		calls++
		acceptedID = id
	})

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx := hook(context.Background(), server)
	id := ConnectionIDFromContext(ctx)
	if id == "" {
		t.Fatal("expected connection id in context")
	}
	if calls != 1 || acceptedID != id {
		t.Errorf("onAccept called %d times with %q, want once with %q", calls, acceptedID, id)
	}

	other := ConnectionIDFromContext(hook(context.Background(), server))
	if other == id {
		t.Error("each connection should get its own id")
	}
}

func TestRequestIDFromContext(t *testing.T) {
	t.Run("set", func(t *testing.T) {
		ctx := WithRequestID(t.Context(), "key-id-1")
		if id := RequestIDFromContext(ctx); id != "key-id-1" {
			t.Errorf("expected 'key-id-1', got %q", id)
		}
	})

	t.Run("empty context returns empty string", func(t *testing.T) {
		if id := RequestIDFromContext(t.Context()); id != "" {
			t.Errorf("expected empty string, got %q", id)
		}
	})
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
