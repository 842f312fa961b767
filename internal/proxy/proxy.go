// Package proxy forwards API requests to the note service and degrades
// gracefully when the backend is unreachable.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lanki/edge/internal/config"
	"github.com/lanki/edge/internal/telemetry"
)

// FallbackMessage is the placeholder body served when no upstream
// could answer a read request.
const FallbackMessage = "Note service is currently unavailable. Please try again later."

// Hop-by-hop headers are stripped per RFC 7230 section 6.1. Cookie and
// Authorization are stripped as well: the gateway owns the browser
// credentials, the backend trusts the gateway.
var strippedRequestHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Cookie",
	"Authorization",
}

var hopByHopResponseHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Notes is the reverse proxy to the note service. A failed forward is
// retried once, against the alternate upstream when one is configured,
// before the fallback response is served.
type Notes struct {
	primary   *url.URL
	alternate *url.URL
	timeout   time.Duration
	client    *http.Client
	metrics   *telemetry.GatewayMetrics
}

// NewNotes builds the proxy from configuration. The metrics receiver
// may be nil.
func NewNotes(cfg config.NotesConfig, metrics *telemetry.GatewayMetrics) (*Notes, error) {
	primary, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse note service URL: %w", err)
	}
	if primary.Scheme == "" || primary.Host == "" {
		return nil, fmt.Errorf("note service URL %q must be absolute", cfg.URL)
	}

	var alternate *url.URL
	if cfg.AlternateURL != "" {
		alternate, err = url.Parse(cfg.AlternateURL)
		if err != nil {
			return nil, fmt.Errorf("parse alternate note service URL: %w", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &Notes{
		primary:   primary,
		alternate: alternate,
		timeout:   timeout,
		client: &http.Client{
			// Redirects from the backend pass through to the browser.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		metrics: metrics,
	}, nil
}

// ServeHTTP forwards the request upstream. Client errors (4xx) pass
// through untouched; transport failures, timeouts and 5xx responses
// count as upstream failure and trigger the retry and the fallback.
func (p *Notes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "edge/proxy", "proxy.Forward",
		attribute.String(telemetry.AttrUpstreamURL, p.primary.String()),
	)
	defer span.End()

	// Buffer the body so a retry can replay it.
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
	}

	resp, err := p.attempt(ctx, r, p.primary, body)
	if err != nil {
		retryTarget := p.alternate
		if retryTarget == nil {
			retryTarget = p.primary
		}
		log.Printf("upstream %s failed (%v), retrying against %s", p.primary, err, retryTarget)
		span.SetAttributes(attribute.Bool(telemetry.AttrUpstreamRetry, true))

		resp, err = p.attempt(ctx, r, retryTarget, body)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		if p.metrics != nil {
			p.metrics.RecordFallback(ctx, r.Method)
		}
		Fallback(w, r)
		return
	}
	defer resp.Body.Close()

	copyResponse(w, resp)
}

// attempt forwards once and converts a 5xx answer into an error, so
// server errors share the retry and fallback path with dead upstreams.
func (p *Notes) attempt(ctx context.Context, r *http.Request, target *url.URL, body []byte) (*http.Response, error) {
	resp, err := p.forward(ctx, r, target, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("upstream %s returned %s", target, resp.Status)
	}
	return resp, nil
}

// forward performs a single attempt with its own deadline.
func (p *Notes) forward(ctx context.Context, r *http.Request, target *url.URL, body []byte) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)

	outURL := *target
	outURL.Path = singleJoiningSlash(target.Path, r.URL.Path)
	outURL.RawQuery = r.URL.RawQuery

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	out, err := http.NewRequestWithContext(attemptCtx, r.Method, outURL.String(), reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	out.Header = r.Header.Clone()
	for _, h := range strippedRequestHeaders {
		out.Header.Del(h)
	}
	for _, f := range r.Header.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = textproto.TrimString(name); name != "" {
				out.Header.Del(name)
			}
		}
	}
	out.Header.Set("X-Forwarded-Host", r.Host)
	out.Header.Set("X-Forwarded-Proto", forwardedProto(r))
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		out.Header.Add("X-Forwarded-For", host)
	}
	if len(body) > 0 {
		out.ContentLength = int64(len(body))
	}

	resp, err := p.client.Do(out)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("forward to %s: %w", target, err)
	}

	// The body is streamed after forward returns; tie the cancel to it.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	for _, h := range hopByHopResponseHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Printf("copy upstream response: %v", err)
	}
}

// Fallback writes the degraded-mode response. Reads get a friendly
// placeholder so pages still render; mutations must not pretend to
// have succeeded and report 503.
func Fallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, FallbackMessage)
	default:
		http.Error(w, "note service unavailable", http.StatusServiceUnavailable)
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

func forwardedProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
