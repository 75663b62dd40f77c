package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/snapcal/edgecache/internal/cache"
	"github.com/snapcal/edgecache/internal/config"
	"github.com/snapcal/edgecache/internal/logging"
)

// Fetcher performs upstream fetches on behalf of the worker. Injectable so the
// worker can be tested against fakes.
type Fetcher interface {
	// Fetch issues a GET for the given path. Used for install prefetch and
	// background revalidation. The error is non-nil only for transport
	// failures; an HTTP error status is still a delivered response.
	Fetch(ctx context.Context, path string) (*cache.Entry, error)

	// Forward relays a client request upstream and captures the response.
	Forward(r *http.Request) (*cache.Entry, error)
}

// Client is the HTTP Fetcher. An optional circuit breaker short-circuits
// requests to a dead backend so offline callers hit the cache fallback
// immediately instead of waiting out dial timeouts.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*cache.Entry]
}

// NewClient creates a Client for the configured upstream.
func NewClient(cfg config.UpstreamConfig) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}

	c := &Client{
		base: base,
		httpClient: &http.Client{
			Transport: NewTransport(cfg.Transport),
			// Redirects are relayed to the caller, not followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	if cfg.CircuitBreaker.Enabled {
		threshold := cfg.CircuitBreaker.FailureThreshold
		if threshold == 0 {
			threshold = 5
		}
		c.breaker = gobreaker.NewCircuitBreaker[*cache.Entry](gobreaker.Settings{
			Name:        "upstream",
			MaxRequests: cfg.CircuitBreaker.MaxRequests,
			Timeout:     cfg.CircuitBreaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn("upstream circuit breaker state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	return c, nil
}

// Fetch issues a GET for path against the upstream base URL.
func (c *Client) Fetch(ctx context.Context, path string) (*cache.Entry, error) {
	target := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Forward relays r upstream, preserving method, path, query, headers and body.
func (c *Client) Forward(r *http.Request) (*cache.Entry, error) {
	target := c.resolve(r.URL.RequestURI())
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	copyHeaders(req.Header, r.Header)
	removeHopHeaders(req.Header)
	if r.ContentLength > 0 {
		req.ContentLength = r.ContentLength
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*cache.Entry, error) {
	if c.breaker != nil {
		return c.breaker.Execute(func() (*cache.Entry, error) {
			return c.roundTrip(req)
		})
	}
	return c.roundTrip(req)
}

func (c *Client) roundTrip(req *http.Request) (*cache.Entry, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream body: %w", err)
	}

	headers := resp.Header.Clone()
	removeHopHeaders(headers)

	return &cache.Entry{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

func (c *Client) resolve(pathAndQuery string) string {
	base := strings.TrimSuffix(c.base.String(), "/")
	if !strings.HasPrefix(pathAndQuery, "/") {
		pathAndQuery = "/" + pathAndQuery
	}
	return base + pathAndQuery
}

// IsBreakerOpen reports whether err came from an open circuit breaker.
func IsBreakerOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

// Hop-by-hop headers that must not be relayed
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

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
