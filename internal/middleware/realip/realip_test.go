package realip

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPeerIP(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"203.0.113.9:51234", "203.0.113.9"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.9", "203.0.113.9"},
	}
	for _, tt := range tests {
		if got := PeerIP(tt.addr); got != tt.want {
			t.Errorf("PeerIP(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestForwardedFor(t *testing.T) {
	const peer = "203.0.113.9:40000"

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"valid ipv4 kept", "10.0.0.5", "10.0.0.5"},
		{"valid ipv6 kept", "2001:db8::7", "2001:db8::7"},
		{"missing", "", "203.0.113.9"},
		{"garbage", "not-an-ip", "203.0.113.9"},
		{"chain is not a single address", "1.2.3.4, 10.0.0.1", "203.0.113.9"},
		{"surrounding space", " 10.0.0.5", "203.0.113.9"},
		{"host and port", "10.0.0.5:80", "203.0.113.9"},
		{"zoned ipv6", "fe80::1%eth0", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ForwardedFor(tt.value, peer); got != tt.want {
				t.Errorf("ForwardedFor(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	var got string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.168.1.1:12345"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if got != "192.168.1.1" {
		t.Errorf("expected peer 192.168.1.1, got %q", got)
	}
}

func TestFromContextEmpty(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if ip := FromContext(r.Context()); ip != "" {
		t.Errorf("expected empty, got %q", ip)
	}
}
