package vantaclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wisbric/vulnsync/internal/credentials"
)

// errSentinelForTest is a fixed error value used by tests asserting that a
// callback error is propagated verbatim rather than wrapped.
var errSentinelForTest = errors.New("boom")

// scriptedResponse describes one canned HTTP response for the fake
// transport, keyed by call index within its endpoint's script.
type scriptedResponse struct {
	status  int
	body    string
	headers map[string]string
}

// fakeTransport is the canonical test fixture: an http.RoundTripper that
// serves a fixed script of responses per URL path, counting calls per path
// so tests can assert on retry/backoff behavior without a real server.
type fakeTransport struct {
	scripts map[string][]scriptedResponse
	calls   map[string]*int64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		scripts: make(map[string][]scriptedResponse),
		calls:   make(map[string]*int64),
	}
}

func (f *fakeTransport) script(path string, responses ...scriptedResponse) {
	f.scripts[path] = responses
	var n int64
	f.calls[path] = &n
}

func (f *fakeTransport) callCount(path string) int64 {
	n, ok := f.calls[path]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(n)
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	path := req.URL.Path
	responses, ok := f.scripts[path]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	counter := f.calls[path]
	idx := atomic.AddInt64(counter, 1) - 1
	if int(idx) >= len(responses) {
		idx = int64(len(responses) - 1)
	}
	r := responses[idx]

	h := http.Header{}
	for k, v := range r.headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(r.body))),
		Header:     h,
	}, nil
}

func authOKBody(token string, expiresIn int) string {
	b, _ := json.Marshal(map[string]any{"access_token": token, "expires_in": expiresIn})
	return string(b)
}

func pageBody(records []string, hasNext bool, endCursor string) string {
	raw := make([]json.RawMessage, len(records))
	for i, r := range records {
		raw[i] = json.RawMessage(r)
	}
	b, _ := json.Marshal(map[string]any{
		"results": map[string]any{
			"data": raw,
			"pageInfo": map[string]any{
				"hasNextPage": hasNext,
				"endCursor":   endCursor,
			},
		},
	})
	return string(b)
}

func testClient(t *testing.T, ft *fakeTransport) *Client {
	t.Helper()
	hc := &http.Client{Transport: ft, Timeout: 5 * time.Second}
	creds := credentials.NewStaticStore(credentials.Pair{ClientID: "id", ClientSecret: "secret"})
	c := New("https://api.test", "https://auth.test/token", creds, 5*time.Second, WithHTTPClient(hc))
	return c
}
