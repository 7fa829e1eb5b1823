package vantaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/wisbric/vulnsync/internal/credentials"
	"github.com/wisbric/vulnsync/internal/ratelimit"
)

// tokenExpiryMargin is how far ahead of actual expiry the client treats a
// bearer token as needing refresh.
const tokenExpiryMargin = 60 * time.Second

// defaultTokenTTL is used when the auth response omits expires_in.
const defaultTokenTTL = 3300 * time.Second

// authScope is the fixed OAuth scope requested for client-credentials grants.
const authScope = "vanta-api.all:read"

// bearerToken wraps oauth2.Token. The stock golang.org/x/oauth2/clientcredentials
// TokenSource does not expose a force-refresh hook, so the authenticator
// manages the oauth2.Token value directly rather than through a TokenSource,
// while still using oauth2.Token as the wire/value type.
type bearerToken = oauth2.Token

func validFor(t bearerToken, now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.Expiry.Add(-tokenExpiryMargin))
}

// authenticator manages the bearer token lifecycle: lazy fetch, early
// refresh, forced refresh on 401, and a singleflight "authentication lock"
// so concurrent callers share one in-flight token fetch instead of causing a
// thundering herd against the auth endpoint.
type authenticator struct {
	authURL    string
	creds      credentials.Store
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	now        func() time.Time

	mu    sync.Mutex
	token bearerToken

	sf singleflight.Group
}

func newAuthenticator(authURL string, creds credentials.Store, httpClient *http.Client, limiter *ratelimit.Limiter) *authenticator {
	return &authenticator{
		authURL:    authURL,
		creds:      creds,
		httpClient: httpClient,
		limiter:    limiter,
		now:        time.Now,
	}
}

// Token returns a valid bearer token, fetching or refreshing it as needed.
// If force is true, a refresh is always triggered regardless of the current
// token's remaining lifetime (used after a 401).
func (a *authenticator) Token(ctx context.Context, force bool) (string, error) {
	a.mu.Lock()
	current := a.token
	a.mu.Unlock()

	if !force && validFor(current, a.now()) {
		return current.AccessToken, nil
	}

	v, err, _ := a.sf.Do("token", func() (interface{}, error) {
		a.mu.Lock()
		refreshed := a.token
		a.mu.Unlock()
		// Another goroutine may have refreshed while we waited for the lock;
		// re-check before issuing a new network request unless forced.
		if !force && validFor(refreshed, a.now()) {
			return refreshed.AccessToken, nil
		}
		return a.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *authenticator) fetch(ctx context.Context) (string, error) {
	pair, err := a.creds.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("reading credentials: %w", err)
	}
	if pair.Empty() {
		return "", fmt.Errorf("%w: client id and client secret must be configured before syncing", ErrAuthFailed)
	}

	if err := a.limiter.Acquire(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestCancelled, err)
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     pair.ClientID,
		"client_secret": pair.ClientSecret,
		"scope":         authScope,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("marshalling auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrRequestCancelled, err)
		}
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: auth endpoint returned %d: %s", ErrAuthFailed, resp.StatusCode, string(respBody))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: decoding auth response: %v", ErrAuthFailed, err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token in auth response", ErrAuthFailed)
	}

	ttl := defaultTokenTTL
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}

	tok := bearerToken{AccessToken: parsed.AccessToken, Expiry: a.now().Add(ttl), TokenType: "Bearer"}
	a.mu.Lock()
	a.token = tok
	a.mu.Unlock()

	return tok.AccessToken, nil
}
