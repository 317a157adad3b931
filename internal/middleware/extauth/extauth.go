package extauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Gate delegates authorization decisions to an external HTTP service. It
// issues one GET per check, forwarding only the Cookie header; there is no
// caching and no retry.
type Gate struct {
	url     string
	client  *http.Client
	metrics *ExtAuthMetrics
}

// Result is the outcome of an authorization check.
type Result struct {
	Allowed bool
	// Response holds the authorization service's reply when the request
	// was denied. The caller relays it to the client and closes its body.
	Response *http.Response
}

// New creates a Gate calling authURL through transport. A nil transport
// uses http.DefaultTransport.
func New(authURL string, transport http.RoundTripper) (*Gate, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid authorization url %q: scheme must be http or https", authURL)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Gate{
		url: authURL,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		metrics: NewExtAuthMetrics(),
	}, nil
}

// URL returns the authorization endpoint.
func (g *Gate) URL() string {
	return g.url
}

// Check asks the authorization service whether the request carrying header
// may proceed. A 2xx answer allows it; any other status denies it and the
// response is returned for relaying. A transport failure returns an error.
func (g *Gate) Check(ctx context.Context, header http.Header) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create auth request: %w", err)
	}
	req.Header = make(http.Header, 2)
	if cookies := header.Values("Cookie"); len(cookies) > 0 {
		req.Header["Cookie"] = cookies
	}
	req.Header.Set("User-Agent", "")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.RecordError()
		return nil, fmt.Errorf("auth service request: %w", err)
	}
	allowed := resp.StatusCode >= 200 && resp.StatusCode < 300
	g.metrics.Record(allowed, time.Since(start))

	if allowed {
		resp.Body.Close()
		return &Result{Allowed: true}, nil
	}
	return &Result{Response: resp}, nil
}

// Stats returns a snapshot of authorization check metrics.
func (g *Gate) Stats() ExtAuthSnapshot {
	return g.metrics.Snapshot()
}
