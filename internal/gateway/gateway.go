package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/wudi/apigw/internal/config"
	"github.com/wudi/apigw/internal/errors"
	"github.com/wudi/apigw/internal/logging"
	"github.com/wudi/apigw/internal/metrics"
	"github.com/wudi/apigw/internal/middleware"
	"github.com/wudi/apigw/internal/middleware/cors"
	"github.com/wudi/apigw/internal/middleware/extauth"
	"github.com/wudi/apigw/internal/middleware/realip"
	"github.com/wudi/apigw/internal/proxy"
	"github.com/wudi/apigw/internal/router"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options carries the collaborators a Gateway needs. Zero fields get
// defaults.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// Transport is shared by the authorization and backend calls. When nil
	// it is built from the config's transport section.
	Transport http.RoundTripper
}

// Gateway is the per-request state machine: preflight, documentation,
// route resolution, authorization and forwarding.
type Gateway struct {
	config    *config.Config
	table     *router.Table
	gate      *extauth.Gate
	rewriter  *proxy.Rewriter
	forwarder *proxy.Forwarder
	cors      *cors.Handler
	metrics   *metrics.Collector
	logger    *zap.Logger

	specRoute string
	specFile  string
	uiRoute   string
	uiFile    string
}

// requestContext is what every terminal log entry reports about a request.
type requestContext struct {
	id     string
	ip     string
	method string
	path   string
	query  string
	start  time.Time
}

// New creates a gateway from an already validated config.
func New(cfg *config.Config, opts Options) (*Gateway, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Transport == nil {
		t := cfg.Transport
		tr, err := proxy.NewTransport(proxy.TransportConfig{
			MaxIdleConns:        t.MaxIdleConns,
			MaxIdleConnsPerHost: t.MaxIdleConnsPerHost,
			IdleConnTimeout:     t.IdleConnTimeout,
			DialTimeout:         t.DialTimeout,
			TLSHandshakeTimeout: t.TLSHandshakeTimeout,
			InsecureSkipVerify:  t.InsecureSkipVerify,
			CAFile:              t.CAFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize transport: %w", err)
		}
		opts.Transport = tr
	}

	gate, err := extauth.New(cfg.AuthorizationAPIURL, opts.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authorization: %w", err)
	}

	return &Gateway{
		config:    cfg,
		table:     router.NewTable(cfg.Services, cfg.EndpointsWithoutAuth),
		gate:      gate,
		rewriter:  proxy.NewRewriter(),
		forwarder: proxy.NewForwarder(opts.Transport, true),
		cors:      cors.New(cfg.CORS),
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		specRoute: cfg.Docs.SpecRoute,
		specFile:  cfg.Docs.OpenAPIPath,
		uiRoute:   cfg.Docs.UIRoute,
		uiFile:    cfg.Docs.HTMLPath(),
	}, nil
}

// Handler returns the gateway wrapped in its middleware chain. CORS sits
// inside the correlation layers so panics are still decorated and logged
// with their request id.
func (g *Gateway) Handler() http.Handler {
	return middleware.NewBuilder().
		Use(realip.Middleware).
		Use(middleware.RequestID(g.config.Correlation)).
		Use(g.cors.Middleware()).
		Use(middleware.RecoveryWithConfig(middleware.RecoveryConfig{
			PrintStack: true,
			LogFunc:    g.logPanic,
		})).
		Handler(g)
}

// Metrics returns the metrics collector.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.metrics
}

// ServeHTTP runs one request through the state machine. Every terminal
// state writes exactly one log entry.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := &requestContext{
		id:     middleware.RequestIDFromContext(r.Context()),
		ip:     realip.FromContext(r.Context()),
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.RawQuery,
		start:  time.Now(),
	}
	if rc.ip == "" {
		rc.ip = realip.PeerIP(r.RemoteAddr)
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		g.finish(rc, zapcore.InfoLevel, "Preflight request", metrics.OutcomePreflight, http.StatusNoContent)
		return
	}

	if g.specRoute != "" && rc.path == g.specRoute {
		g.serveDoc(w, rc, g.specFile, "application/yaml")
		return
	}
	if g.uiRoute != "" && rc.path == g.uiRoute {
		g.serveDoc(w, rc, g.uiFile, "text/html")
		return
	}

	route := g.table.Resolve(rc.path)
	if route == nil {
		errors.ErrNotFound.Write(w)
		g.finish(rc, zapcore.WarnLevel, "Path not found: "+rc.path, metrics.OutcomeNotFound, http.StatusNotFound)
		return
	}

	// Outbound calls outlive a client disconnect.
	outCtx := context.WithoutCancel(r.Context())

	if !g.table.IsExempt(rc.path, rc.method) {
		res, err := g.gate.Check(outCtx, r.Header)
		if err != nil {
			g.metrics.RecordAuthCheck(metrics.AuthError)
			errors.ErrAuthServiceUnreachable.Write(w)
			g.finish(rc, zapcore.ErrorLevel, "Failed to connect to Authorization API: "+g.gate.URL(),
				metrics.OutcomeAuthError, http.StatusServiceUnavailable, zap.Error(err))
			return
		}
		if !res.Allowed {
			g.metrics.RecordAuthCheck(metrics.AuthDenied)
			status := res.Response.StatusCode
			err := g.forwarder.Relay(w, res.Response)
			g.finish(rc, zapcore.InfoLevel, "Authorization denied", metrics.OutcomeAuthDenied, status, relayFields(err)...)
			return
		}
		g.metrics.RecordAuthCheck(metrics.AuthAllowed)
	}

	out, err := g.rewriter.Rewrite(outCtx, r, route, rc.id)
	if err != nil {
		g.backendFailure(w, rc, route, err)
		return
	}
	resp, err := g.forwarder.Forward(out)
	if err != nil {
		g.backendFailure(w, rc, route, err)
		return
	}
	status := resp.StatusCode
	err = g.forwarder.Relay(w, resp)
	g.finish(rc, zapcore.InfoLevel, "Connection closed", metrics.OutcomeForwarded, status,
		append(relayFields(err), zap.String("target", route.Target()))...)
}

func (g *Gateway) backendFailure(w http.ResponseWriter, rc *requestContext, route *router.Route, err error) {
	errors.ErrBackendUnreachable.Write(w)
	g.finish(rc, zapcore.ErrorLevel, "Failed to connect to downstream service", metrics.OutcomeBackendFail,
		http.StatusServiceUnavailable, zap.String("target", route.Target()), zap.Error(err))
}

// serveDoc reads a published documentation file on every request so a
// re-merge is visible without a restart.
func (g *Gateway) serveDoc(w http.ResponseWriter, rc *requestContext, file, contentType string) {
	data, err := os.ReadFile(file)
	if err != nil {
		errors.ErrNotFound.Write(w)
		g.finish(rc, zapcore.WarnLevel, "Documentation file unavailable", metrics.OutcomeDocs, http.StatusNotFound,
			zap.String("file", file), zap.Error(err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	g.finish(rc, zapcore.InfoLevel, "Documentation served", metrics.OutcomeDocs, http.StatusOK)
}

// relayFields reports a body copy that failed after the status was sent.
func relayFields(err error) []zap.Field {
	if err == nil {
		return nil
	}
	return []zap.Field{zap.NamedError("relay_error", err)}
}

func (g *Gateway) finish(rc *requestContext, level zapcore.Level, msg, outcome string, status int, extra ...zap.Field) {
	g.metrics.RecordRequest(outcome, status, time.Since(rc.start))

	ce := g.logger.Check(level, msg)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, 7+len(extra))
	fields = append(fields,
		zap.Namespace("params"),
		zap.String("request_id", rc.id),
		zap.String("ip", rc.ip),
		zap.String("method", rc.method),
		zap.String("url", rc.path),
		zap.String("params", rc.query),
		zap.Int("status", status),
	)
	ce.Write(append(fields, extra...)...)
}

func (g *Gateway) logPanic(r *http.Request, err interface{}, stack []byte) {
	g.logger.Error("Panic recovered",
		zap.Namespace("params"),
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		zap.String("ip", realip.FromContext(r.Context())),
		zap.String("method", r.Method),
		zap.String("url", r.URL.Path),
		zap.String("params", r.URL.RawQuery),
		zap.Int("status", http.StatusInternalServerError),
		zap.Any("error", err),
		zap.ByteString("stack", stack),
	)
}
