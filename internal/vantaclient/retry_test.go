package vantaclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFetchPageAtSize_SuccessOnFirstTry(t *testing.T) {
	ft := newFakeTransport()
	ft.script("/token", scriptedResponse{status: 200, body: authOKBody("tok-1", 3600)})
	ft.script("/v1/vulnerabilities", scriptedResponse{status: 200, body: pageBody([]string{`{"id":"v1"}`}, false, "")})

	c := testClient(t, ft)
	p, err := c.fetchPageAtSize(context.Background(), EndpointVulnerabilities, nil, "", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Results.Data) != 1 {
		t.Fatalf("expected 1 record, got %d", len(p.Results.Data))
	}
}

func TestFetchPageAtSize_401TriggersForcedReauthAndRetry(t *testing.T) {
	ft := newFakeTransport()
	ft.script("/token",
		scriptedResponse{status: 200, body: authOKBody("stale", 3600)},
		scriptedResponse{status: 200, body: authOKBody("fresh", 3600)},
	)
	ft.script("/v1/vulnerabilities",
		scriptedResponse{status: 401, body: ""},
		scriptedResponse{status: 200, body: pageBody([]string{`{"id":"v1"}`}, false, "")},
	)

	c := testClient(t, ft)
	_, err := c.fetchPageAtSize(context.Background(), EndpointVulnerabilities, nil, "", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ft.callCount("/token") != 2 {
		t.Fatalf("expected a forced re-auth, got %d auth calls", ft.callCount("/token"))
	}
}

func TestFetchPageAtSize_429SleepsRetryAfter(t *testing.T) {
	ft := newFakeTransport()
	ft.script("/token", scriptedResponse{status: 200, body: authOKBody("tok", 3600)})
	ft.script("/v1/vulnerabilities",
		scriptedResponse{status: 429, headers: map[string]string{"Retry-After": "0"}},
		scriptedResponse{status: 200, body: pageBody(nil, false, "")},
	)

	c := testClient(t, ft)
	start := time.Now()
	_, err := c.fetchPageAtSize(context.Background(), EndpointVulnerabilities, nil, "", 100)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed < time.Second {
		t.Fatalf("expected at least the +1s grace sleep, got %v", elapsed)
	}
}

func TestFetchPageAtSize_5xxExhaustsAndIsDegradable(t *testing.T) {
	ft := newFakeTransport()
	ft.script("/token", scriptedResponse{status: 200, body: authOKBody("tok", 3600)})
	responses := make([]scriptedResponse, maxRetries+1)
	for i := range responses {
		responses[i] = scriptedResponse{status: 503, body: "unavailable"}
	}
	ft.script("/v1/vulnerabilities", responses...)

	c := testClient(t, ft)
	_, err := c.fetchPageAtSize(context.Background(), EndpointVulnerabilities, nil, "", 100)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if !errors.Is(err, ErrRequestExhausted) {
		t.Fatalf("expected ErrRequestExhausted, got %v", err)
	}
	var deg degradableErr
	if !errors.As(err, &deg) {
		t.Fatalf("expected degradable error, got %T", err)
	}
}

func TestFetchPageAtSize_OtherFourXXFailsImmediately(t *testing.T) {
	ft := newFakeTransport()
	ft.script("/token", scriptedResponse{status: 200, body: authOKBody("tok", 3600)})
	ft.script("/v1/vulnerabilities", scriptedResponse{status: 403, body: "forbidden"})

	c := testClient(t, ft)
	_, err := c.fetchPageAtSize(context.Background(), EndpointVulnerabilities, nil, "", 100)
	if err == nil {
		t.Fatal("expected immediate failure")
	}
	if ft.callCount("/v1/vulnerabilities") != 1 {
		t.Fatalf("expected no retry on non-retryable 4xx, got %d calls", ft.callCount("/v1/vulnerabilities"))
	}
}

func TestFetchPage_DegradesPageSizeOnPersistent5xx(t *testing.T) {
	ft := newFakeTransport()
	ft.script("/token", scriptedResponse{status: 200, body: authOKBody("tok", 3600)})
	responses := make([]scriptedResponse, maxRetries+1)
	for i := range responses {
		responses[i] = scriptedResponse{status: 503}
	}
	responses = append(responses, scriptedResponse{status: 200, body: pageBody(nil, false, "")})
	ft.script("/v1/vulnerabilities", responses...)

	c := testClient(t, ft)
	result, err := c.fetchPage(context.Background(), EndpointVulnerabilities, nil, "", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.pageSize != 1 {
		t.Fatalf("expected degraded page size 1, got %d", result.pageSize)
	}
}

func TestFetchPageAtSize_CancellationPropagatesWithoutRetry(t *testing.T) {
	ft := newFakeTransport()
	ft.script("/token", scriptedResponse{status: 200, body: authOKBody("tok", 3600)})
	ft.script("/v1/vulnerabilities", scriptedResponse{status: 503})

	c := testClient(t, ft)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.fetchPageAtSize(ctx, EndpointVulnerabilities, nil, "", 100)
	if !errors.Is(err, ErrRequestCancelled) {
		t.Fatalf("expected ErrRequestCancelled, got %v", err)
	}
}
