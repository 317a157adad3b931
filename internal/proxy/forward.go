package proxy

import (
	"io"
	"net/http"
)

// Forwarder performs the single outbound round trip for a request.
type Forwarder struct {
	transport http.RoundTripper
	flush     bool
}

// NewForwarder creates a Forwarder using transport. A nil transport uses
// DefaultTransport. With flush set, each body chunk is flushed to the
// client as it arrives.
func NewForwarder(transport http.RoundTripper, flush bool) *Forwarder {
	if transport == nil {
		transport = DefaultTransport()
	}
	return &Forwarder{transport: transport, flush: flush}
}

// Forward sends req once. Redirects are not followed and nothing is
// retried. The caller owns the response body.
func (f *Forwarder) Forward(req *http.Request) (*http.Response, error) {
	return f.transport.RoundTrip(req)
}

// Relay copies resp to w: status, end-to-end headers and body. The body is
// closed when done.
func (f *Forwarder) Relay(w http.ResponseWriter, resp *http.Response) error {
	defer resp.Body.Close()

	dst := w.Header()
	for k, vv := range resp.Header {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)

	w.WriteHeader(resp.StatusCode)
	return f.copyBody(w, resp.Body)
}

func (f *Forwarder) copyBody(w http.ResponseWriter, body io.Reader) error {
	if f.flush {
		if flusher, ok := w.(http.Flusher); ok {
			buf := make([]byte, 32*1024)
			for {
				n, err := body.Read(buf)
				if n > 0 {
					if _, werr := w.Write(buf[:n]); werr != nil {
						return werr
					}
					flusher.Flush()
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
			}
		}
	}

	_, err := io.Copy(w, body)
	return err
}
