package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPListener wraps an http.Server bound to a TCP address.
type HTTPListener struct {
	id       string
	address  string
	server   *http.Server
	mu       sync.Mutex
	listener net.Listener
}

// HTTPListenerConfig holds configuration for creating an HTTP listener
type HTTPListenerConfig struct {
	ID                string
	Address           string
	Handler           http.Handler
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	// ConnContext is installed as http.Server.ConnContext.
	ConnContext func(ctx context.Context, c net.Conn) context.Context
}

// NewHTTPListener creates a new HTTP listener. Read and write timeouts are
// left unset so long-running relays are never cut short.
func NewHTTPListener(cfg HTTPListenerConfig) *HTTPListener {
	maxHeaderBytes := cfg.MaxHeaderBytes
	if maxHeaderBytes == 0 {
		maxHeaderBytes = 1 << 20 // 1MB
	}

	return &HTTPListener{
		id:      cfg.ID,
		address: cfg.Address,
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           cfg.Handler,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ConnContext:       cfg.ConnContext,
		},
	}
}

// ID returns the listener ID
func (h *HTTPListener) ID() string {
	return h.id
}

// Addr returns the bound address once Listen succeeded, the configured
// address otherwise.
func (h *HTTPListener) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.address
}

// Listen binds the TCP socket without serving yet.
func (h *HTTPListener) Listen() error {
	ln, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.address, err)
	}
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()
	return nil
}

// Serve accepts connections until Stop is called. It binds first when
// Listen was not called. A graceful stop returns nil.
func (h *HTTPListener) Serve() error {
	h.mu.Lock()
	ln := h.listener
	h.mu.Unlock()
	if ln == nil {
		if err := h.Listen(); err != nil {
			return err
		}
		h.mu.Lock()
		ln = h.listener
		h.mu.Unlock()
	}
	if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listener %s: %w", h.id, err)
	}
	return nil
}

// Stop gracefully stops the listener, waiting for in-flight requests until
// ctx expires.
func (h *HTTPListener) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}
