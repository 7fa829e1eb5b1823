package httpserver_test

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/vulnsync/internal/credentials"
	"github.com/wisbric/vulnsync/internal/httpserver"
	"github.com/wisbric/vulnsync/internal/store"
	"github.com/wisbric/vulnsync/internal/syncengine"
)

func newTestServer(t *testing.T) *httpserver.Server {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "vulns.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	creds := credentials.NewStaticStore(credentials.Pair{ClientID: "id", ClientSecret: "secret"})
	orchestrator := syncengine.New(db, creds, "https://api.test", "https://auth.test/token", 5*time.Second, nil)

	reg := prometheus.NewRegistry()
	return httpserver.NewServer(nil, db, orchestrator, reg)
}

func TestHealthz_AlwaysOK(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body)
	}
}

func TestReadyz_ReportsReadyForOpenStore(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStatus_ReportsIdleStateWithNoPriorSync(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		SyncState        string  `json:"sync_state"`
		SyncActive       bool    `json:"sync_active"`
		LastSuccessfulAt *string `json:"last_successful_sync_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.SyncState != "idle" || body.SyncActive {
		t.Fatalf("expected idle/inactive, got %+v", body)
	}
	if body.LastSuccessfulAt != nil {
		t.Fatalf("expected no prior sync date, got %v", *body.LastSuccessfulAt)
	}
}

func TestMetrics_ServesPrometheusFormat(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics body")
	}
}
