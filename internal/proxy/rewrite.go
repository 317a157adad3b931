package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wudi/apigw/internal/middleware"
	"github.com/wudi/apigw/internal/middleware/realip"
	"github.com/wudi/apigw/internal/router"
)

// Rewriter turns an inbound request into the request sent to a route's
// backend.
type Rewriter struct{}

// NewRewriter creates a Rewriter.
func NewRewriter() *Rewriter {
	return &Rewriter{}
}

// TargetURL returns the backend URL for route with the given path and raw
// query. A target without a scheme is reached over plain http. An empty
// query adds no "?".
func TargetURL(route *router.Route, path, rawPath, rawQuery string) (*url.URL, error) {
	scheme, host := "http", route.TargetService
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid target_service %q: %w", route.TargetService, err)
		}
		scheme, host = u.Scheme, u.Hostname()
	}
	if host == "" {
		return nil, fmt.Errorf("invalid target_service %q: empty host", route.TargetService)
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(host, strconv.Itoa(route.TargetPort)),
		Path:     path,
		RawPath:  rawPath,
		RawQuery: rawQuery,
	}, nil
}

// Rewrite builds the outbound request for route. The path and query are
// kept, X-Forwarded-For is kept only when it holds a single valid address
// and is otherwise replaced by the peer IP, X-Request-Id is set to
// requestID and hop-by-hop headers are dropped. The inbound Host header and
// body are passed through; the body is streamed, not buffered.
func (rw *Rewriter) Rewrite(ctx context.Context, r *http.Request, route *router.Route, requestID string) (*http.Request, error) {
	target, err := TargetURL(route, r.URL.Path, r.URL.RawPath, r.URL.RawQuery)
	if err != nil {
		return nil, err
	}

	out := (&http.Request{
		Method:        r.Method,
		URL:           target,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header.Clone(),
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          r.Host,
	}).WithContext(ctx)
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.ContentLength == 0 {
		out.Body = nil
	}

	removeHopHeaders(out.Header)

	out.Header.Set(realip.HeaderXForwardedFor,
		realip.ForwardedFor(r.Header.Get(realip.HeaderXForwardedFor), r.RemoteAddr))
	out.Header.Set(middleware.HeaderRequestID, requestID)

	if _, ok := out.Header["User-Agent"]; !ok {
		// keep net/http from adding its own
		out.Header.Set("User-Agent", "")
	}

	return out, nil
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders drops the standard hop-by-hop headers and any header
// named in Connection.
func removeHopHeaders(header http.Header) {
	for _, f := range header.Values("Connection") {
		for _, sf := range strings.Split(f, ",") {
			if sf = strings.TrimSpace(sf); sf != "" {
				header.Del(sf)
			}
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
}
