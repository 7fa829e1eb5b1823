// Package vantaclient implements an authenticated, paginated, rate-limited,
// retrying HTTP client for the remote vulnerability-data API.
package vantaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wisbric/vulnsync/internal/credentials"
	"github.com/wisbric/vulnsync/internal/ratelimit"
)

const (
	// maxPageSize is the API's maximum page size and the client's initial
	// page size for every pagination run.
	maxPageSize = 100

	// maxRetries bounds request_with_retry per spec §4.2.
	maxRetries = 5
)

// Endpoint paths on the remote API, relative to the configured base URL.
const (
	EndpointVulnerabilities = "/v1/vulnerabilities"
	EndpointRemediations    = "/v1/vulnerability-remediations"
	EndpointVulnerableAssets = "/v1/vulnerable-assets"
)

// Client is the authenticated paginated API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *authenticator
	limiters   *ratelimit.Registry
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client (used by tests to inject
// a fake transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. baseURL and authURL are the remote API's base and
// OAuth token endpoints; creds is the credentials port; timeout is the
// per-request HTTP timeout (spec: 120s).
func New(baseURL, authURL string, creds credentials.Store, timeout time.Duration, opts ...Option) *Client {
	hc := &http.Client{Timeout: timeout}
	limiters := ratelimit.NewRegistry(0.9)

	c := &Client{
		baseURL:    baseURL,
		httpClient: hc,
		limiters:   limiters,
		logger:     slog.Default(),
	}
	c.auth = newAuthenticator(authURL, creds, hc, limiters.For(ratelimit.ClassAuth))

	for _, opt := range opts {
		opt(c)
	}
	// Options may have replaced httpClient; keep the authenticator's
	// transport in sync so auth requests share the same fake transport in
	// tests.
	c.auth.httpClient = c.httpClient

	return c
}

// page is the decoded shape of one listing response.
type page struct {
	Results struct {
		Data     []json.RawMessage `json:"data"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"results"`
}

// requestOnce issues a single authenticated GET against endpoint with the
// given query parameters, returning the decoded page or a classified error.
// It does not retry; retry policy lives in requestWithRetry.
func (c *Client) requestOnce(ctx context.Context, endpoint string, query map[string]string, force bool) (*page, *http.Response, error) {
	token, err := c.auth.Token(ctx, force)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+token)

	if err := c.limiters.For(ratelimit.ClassAuditor).Acquire(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRequestCancelled, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrRequestCancelled, err)
		}
		return nil, resp, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		defer func() { _ = resp.Body.Close() }()
		var p page
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, resp, fmt.Errorf("decoding response: %w", err)
		}
		return &p, resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	return nil, resp, nil
}

func requestID(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	for _, h := range requestIDHeaders {
		if v := resp.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

// backoffDuration computes the 5xx exponential backoff: 2^attempt * 1s,
// using cenkalti/backoff's ExponentialBackOff as the deterministic
// (unjittered) interval generator.
func backoffDuration(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	d := b.InitialInterval
	for i := 0; i <= attempt; i++ {
		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}
		d = next
	}
	return d
}
