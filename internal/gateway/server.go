package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wudi/apigw/internal/config"
	"github.com/wudi/apigw/internal/listener"
	"github.com/wudi/apigw/internal/logging"
	"github.com/wudi/apigw/internal/middleware"
	"github.com/wudi/apigw/internal/middleware/realip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server wraps the gateway with its network listeners.
type Server struct {
	gateway   *Gateway
	config    *config.Config
	http      *listener.HTTPListener
	admin     *listener.HTTPListener
	logger    *zap.Logger
	busStats  func() logging.BusStats
	startTime time.Time
}

// ServerOptions extends Options with what only the admin listener reports.
type ServerOptions struct {
	Options
	// BusStats, when set, is reported on /stats.
	BusStats func() logging.BusStats
}

// NewServer creates a gateway server. Nothing is bound until Run.
func NewServer(cfg *config.Config, opts ServerOptions) (*Server, error) {
	gw, err := New(cfg, opts.Options)
	if err != nil {
		return nil, err
	}

	s := &Server{
		gateway:   gw,
		config:    cfg,
		logger:    gw.logger,
		busStats:  opts.BusStats,
		startTime: time.Now(),
	}

	s.http = listener.NewHTTPListener(listener.HTTPListenerConfig{
		ID:                "gateway",
		Address:           cfg.APIGatewayURL,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		ConnContext:       middleware.ConnContext(s.onAccept),
	})

	if cfg.Admin.Enabled {
		s.admin = listener.NewHTTPListener(listener.HTTPListenerConfig{
			ID:                "admin",
			Address:           cfg.Admin.Address,
			Handler:           s.adminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	return s, nil
}

func (s *Server) onAccept(id string, c net.Conn) {
	s.logger.Info("New connection",
		zap.Namespace("params"),
		zap.String("request_id", id),
		zap.String("ip", realip.PeerIP(c.RemoteAddr().String())),
	)
}

// Run binds the listeners and serves until ctx is done, SIGINT or SIGTERM
// arrives, or a listener fails. It then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.http.Listen(); err != nil {
		return err
	}
	if s.admin != nil {
		if err := s.admin.Listen(); err != nil {
			s.http.Stop(context.Background())
			return err
		}
	}

	for _, l := range s.listeners() {
		s.logger.Info("Gateway listening", zap.String("listener", l.ID()), zap.String("address", l.Addr()))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.listeners() {
		g.Go(l.Serve)
	}
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down gracefully...")
		return s.Shutdown(s.config.Server.ShutdownTimeout)
	})
	return g.Wait()
}

// Shutdown stops the admin listener and then the gateway listener, waiting
// up to timeout for in-flight requests. A zero timeout waits indefinitely.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var errs []error
	listeners := s.listeners()
	for i := len(listeners) - 1; i >= 0; i-- {
		l := listeners[i]
		if err := l.Stop(ctx); err != nil {
			s.logger.Error("Listener shutdown error", zap.String("listener", l.ID()), zap.Error(err))
			errs = append(errs, err)
		}
	}

	s.logger.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// listeners returns the gateway listener followed by the admin listener.
func (s *Server) listeners() []*listener.HTTPListener {
	if s.admin == nil {
		return []*listener.HTTPListener{s.http}
	}
	return []*listener.HTTPListener{s.http, s.admin}
}

// Addr returns the gateway listener address.
func (s *Server) Addr() string {
	return s.http.Addr()
}

// AdminAddr returns the admin listener address, or "" when disabled.
func (s *Server) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	metricsPath := s.config.Admin.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle(metricsPath, s.gateway.Metrics().Handler())

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
	})
}

type routeInfo struct {
	Prefix string `json:"prefix"`
	Target string `json:"target"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	routes := s.gateway.table.Routes()
	infos := make([]routeInfo, 0, len(routes))
	for _, route := range routes {
		infos = append(infos, routeInfo{Prefix: route.Prefix, Target: route.Target()})
	}

	response := map[string]interface{}{
		"routes":      infos,
		"correlation": s.config.Correlation,
		"auth":        s.gateway.gate.Stats(),
	}
	if s.busStats != nil {
		response["log_bus"] = s.busStats()
	}

	json.NewEncoder(w).Encode(response)
}
