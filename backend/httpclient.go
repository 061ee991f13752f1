package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSecond = 5
	defaultUserAgent         = "companyatlas/1.0"
)

// sharedClient is the transport every backend reuses. Backends are rebuilt
// for each search, so connections and limiters must outlive them.
var sharedClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        50,
		IdleConnTimeout:     30 * time.Second,
		DisableKeepAlives:   false,
		MaxIdleConnsPerHost: 4,
	},
}

// hostLimiters holds one token bucket per registry host for the life of the
// process.
var hostLimiters = struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}{limiters: make(map[string]*rate.Limiter)}

// limiterFor returns the limiter of host, creating it with the given rate on
// first use. Later rates for the same host are ignored.
func limiterFor(host string, limit rate.Limit, burst int) *rate.Limiter {
	hostLimiters.mu.Lock()
	defer hostLimiters.mu.Unlock()

	if l, ok := hostLimiters.limiters[host]; ok {
		return l
	}

	l := rate.NewLimiter(limit, burst)
	hostLimiters.limiters[host] = l

	return l
}

// HTTPClient sends the requests of one backend. Every request waits on the
// token bucket of its host, shared by all clients talking to that host.
type HTTPClient struct {
	client *http.Client
	limit  rate.Limit
	burst  int
}

type HTTPClientOption func(*HTTPClient)

func WithRate(requestsPerSecond float64, burst int) HTTPClientOption {
	return func(c *HTTPClient) {
		c.limit = rate.Limit(requestsPerSecond)
		c.burst = burst
	}
}

func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

func NewHTTPClient(opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		client: sharedClient,
		limit:  rate.Limit(defaultRequestsPerSecond),
		burst:  1,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if err := limiterFor(req.URL.Host, c.limit, c.burst).Wait(req.Context()); err != nil {
		return nil, err
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	return c.client.Do(req)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search failed: status %d", e.StatusCode)
}

// GetJSON performs a GET request and decodes the JSON body into out. A 404
// is reported as found=false without error.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, fmt.Errorf("error creating search request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.doJSON(req, out)
}

// SendJSON is GetJSON for requests with a body.
func (c *HTTPClient) SendJSON(ctx context.Context, method, rawURL string, headers map[string]string, body io.Reader, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return false, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.doJSON(req, out)
}

func (c *HTTPClient) doJSON(req *http.Request, out any) (bool, error) {
	resp, err := c.Do(req)
	if err != nil {
		return false, fmt.Errorf("error executing search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("error decoding search response: %w", err)
	}

	return true, nil
}

// GetBody fetches a page and returns its body, for HTML registries.
func (c *HTTPClient) GetBody(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}
