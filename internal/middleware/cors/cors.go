package cors

import (
	"net/http"
	"strings"

	"github.com/wudi/apigw/internal/config"
	"github.com/wudi/apigw/internal/middleware"
)

// Handler decorates every response with the gateway's CORS headers.
type Handler struct {
	allowMethods     string
	allowHeaders     string
	allowCredentials bool
}

// New creates a CORS handler from config. Empty lists fall back to the
// defaults.
func New(cfg config.CORSConfig) *Handler {
	h := &Handler{allowCredentials: true}

	if len(cfg.AllowMethods) > 0 {
		h.allowMethods = strings.Join(cfg.AllowMethods, ",")
	} else {
		h.allowMethods = "GET,POST,OPTIONS,PUT,DELETE"
	}

	if len(cfg.AllowHeaders) > 0 {
		h.allowHeaders = strings.Join(cfg.AllowHeaders, ",")
	} else {
		h.allowHeaders = "Content-Type"
	}

	if cfg.AllowCredentials != nil {
		h.allowCredentials = *cfg.AllowCredentials
	}

	return h
}

// ApplyHeaders sets the CORS headers on header, replacing any value
// already present. The allowed origin mirrors the request origin and is
// omitted when the request carried none.
func (h *Handler) ApplyHeaders(header http.Header, origin string) {
	if origin != "" {
		header.Set("Access-Control-Allow-Origin", origin)
		header.Add("Vary", "Origin")
	} else {
		header.Del("Access-Control-Allow-Origin")
	}
	header.Set("Access-Control-Allow-Methods", h.allowMethods)
	header.Set("Access-Control-Allow-Headers", h.allowHeaders)
	if h.allowCredentials {
		header.Set("Access-Control-Allow-Credentials", "true")
	} else {
		header.Del("Access-Control-Allow-Credentials")
	}
}

// Middleware returns a middleware that applies the CORS headers just before
// the response header is written, whatever the inner handler produced.
func (h *Handler) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cw := &corsWriter{
				ResponseWriter: w,
				handler:        h,
				origin:         r.Header.Get("Origin"),
			}
			next.ServeHTTP(cw, r)
			if !cw.wroteHeader {
				cw.WriteHeader(http.StatusOK)
			}
		})
	}
}

// corsWriter applies CORS headers on the first WriteHeader or Write.
type corsWriter struct {
	http.ResponseWriter
	handler     *Handler
	origin      string
	wroteHeader bool
}

func (cw *corsWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	cw.handler.ApplyHeaders(cw.ResponseWriter.Header(), cw.origin)
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *corsWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (cw *corsWriter) Flush() {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (cw *corsWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
