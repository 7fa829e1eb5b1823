package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "nested", "vulns.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesSchemaAndDirectory(t *testing.T) {
	db := openTestStore(t)
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='vulnerabilities'`).Scan(&count); err != nil {
		t.Fatalf("querying schema: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected vulnerabilities table to exist, got count=%d", count)
	}
}

func TestRepairJournalColumns_AddsMissingColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.db")

	// Simulate a pre-existing database whose journal table predates the
	// legacy alias columns.
	bootstrap, err := Open(path, nil)
	if err != nil {
		t.Fatalf("bootstrap open: %v", err)
	}
	if _, err := bootstrap.conn.Exec(`ALTER TABLE sync_events DROP COLUMN new_count`); err != nil {
		t.Skipf("sqlite build does not support DROP COLUMN, skipping: %v", err)
	}
	if err := bootstrap.Close(); err != nil {
		t.Fatalf("closing bootstrap db: %v", err)
	}

	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	rows, err := db.conn.Query(`PRAGMA table_info(sync_events)`)
	if err != nil {
		t.Fatalf("table_info: %v", err)
	}
	defer rows.Close()
	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			t.Fatalf("scanning table_info: %v", err)
		}
		if name == "new_count" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected additive column repair to restore new_count")
	}
}

func TestUpsertVulnerabilitiesBatch_ColdStoreClassification(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	records := []json.RawMessage{
		json.RawMessage(`{"id":"v-1","name":"SSH vuln","severity":"CRITICAL"}`),
	}
	stats, err := db.UpsertVulnerabilitiesBatch(ctx, records, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats != (BatchStats{New: 1, Total: 1}) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUpsertVulnerabilitiesBatch_RemediatedOnFirstInsert(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	records := []json.RawMessage{
		json.RawMessage(`{"id":"v-2","name":"Kernel CVE","severity":"HIGH","deactivateMetadata":{"deactivatedOnDate":"2024-01-10"}}`),
	}
	stats, err := db.UpsertVulnerabilitiesBatch(ctx, records, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.New != 1 || stats.Remediated != 1 {
		t.Fatalf("expected new=1 remediated=1, got %+v", stats)
	}
}

func TestUpsertVulnerabilitiesBatch_IdempotentOnIdenticalPayload(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	records := []json.RawMessage{json.RawMessage(`{"id":"v-3","name":"Lib bug","severity":"MEDIUM"}`)}

	if _, err := db.UpsertVulnerabilitiesBatch(ctx, records, now); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	stats, err := db.UpsertVulnerabilitiesBatch(ctx, records, now)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if stats != (BatchStats{Total: 1}) {
		t.Fatalf("expected no-op classification on identical payload, got %+v", stats)
	}
}

func TestUpsertVulnerabilitiesBatch_UpdateDetection(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := db.UpsertVulnerabilitiesBatch(ctx, []json.RawMessage{
		json.RawMessage(`{"id":"v-4","name":"Lib bug","severity":"LOW"}`),
	}, now); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	stats, err := db.UpsertVulnerabilitiesBatch(ctx, []json.RawMessage{
		json.RawMessage(`{"id":"v-4","name":"Lib bug","severity":"MEDIUM"}`),
	}, now)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if stats.Updated != 1 {
		t.Fatalf("expected updated=1, got %+v", stats)
	}
}

func TestUpsertVulnerabilitiesBatch_RemediationDetectedOnTransition(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := db.UpsertVulnerabilitiesBatch(ctx, []json.RawMessage{
		json.RawMessage(`{"id":"v-5","name":"Lib bug","severity":"LOW","description":"before"}`),
	}, now); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	stats, err := db.UpsertVulnerabilitiesBatch(ctx, []json.RawMessage{
		json.RawMessage(`{"id":"v-5","name":"Lib bug","severity":"LOW","description":"after","deactivateMetadata":{"deactivatedOnDate":"2024-02-01"}}`),
	}, now)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if stats.Updated != 1 || stats.Remediated != 1 {
		t.Fatalf("expected updated=1 remediated=1 on deactivation transition, got %+v", stats)
	}
}

func TestUpsertRemediationsBatch_NewAndUpdated(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	stats, err := db.UpsertRemediationsBatch(ctx, []json.RawMessage{
		json.RawMessage(`{"id":"r-1","vulnerabilityId":"v-1","status":"open"}`),
		json.RawMessage(`{"id":"r-2","vulnerabilityId":"v-2","status":"closed"}`),
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats != (BatchStats{New: 2, Total: 2}) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestListVulnerabilities_FilterBySeverity(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	_, err := db.UpsertVulnerabilitiesBatch(ctx, []json.RawMessage{
		json.RawMessage(`{"id":"v-crit","severity":"CRITICAL"}`),
		json.RawMessage(`{"id":"v-low","severity":"LOW"}`),
	}, now)
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	got, err := db.ListVulnerabilities(ctx, ListOptions{Filters: Filters{"severity": "CRITICAL"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "v-crit" {
		t.Fatalf("expected only v-crit, got %+v", got)
	}
}

func TestListVulnerabilities_UnknownSortFallsBackToFirstDetected(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	_, err := db.UpsertVulnerabilitiesBatch(ctx, []json.RawMessage{
		json.RawMessage(`{"id":"v-1","firstSeenDate":"2024-01-01"}`),
		json.RawMessage(`{"id":"v-2","firstSeenDate":"2024-06-01"}`),
	}, time.Now())
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	got, err := db.ListVulnerabilities(ctx, ListOptions{SortBy: "not_a_real_column", SortDir: "asc"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "v-1" {
		t.Fatalf("expected ascending first_detected fallback ordering, got %+v", got)
	}
}

func TestFiltersCompile_EmptyMapYieldsEmptyClause(t *testing.T) {
	where, args := Filters{}.compile()
	if where != "" || args != nil {
		t.Fatalf("expected empty clause, got %q %v", where, args)
	}
}

func TestFiltersCompile_UnknownKeysIgnored(t *testing.T) {
	where, _ := Filters{"nonsense": "value"}.compile()
	if where != "" {
		t.Fatalf("expected unknown key to be ignored, got %q", where)
	}
}

func TestGetStatistics_CountsAndAverages(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	_, err := db.UpsertVulnerabilitiesBatch(ctx, []json.RawMessage{
		json.RawMessage(`{"id":"v-1","severity":"CRITICAL","cvssSeverityScore":9.0,"targetId":"asset-1"}`),
		json.RawMessage(`{"id":"v-2","severity":"CRITICAL","cvssSeverityScore":7.0,"targetId":"asset-1"}`),
		json.RawMessage(`{"id":"v-3","severity":"LOW","targetId":"asset-2"}`),
	}, time.Now())
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	stats, err := db.GetStatistics(ctx, Filters{})
	if err != nil {
		t.Fatalf("get statistics: %v", err)
	}
	if stats.TotalCount != 3 {
		t.Fatalf("expected total 3, got %d", stats.TotalCount)
	}
	if stats.BySeverity["CRITICAL"] != 2 {
		t.Fatalf("expected 2 critical, got %+v", stats.BySeverity)
	}
	if stats.UniqueAssets != 2 {
		t.Fatalf("expected 2 unique assets, got %d", stats.UniqueAssets)
	}
	if got := stats.AverageCVSSBySeverity["critical"]; got != 8.0 {
		t.Fatalf("expected average cvss 8.0, got %v", got)
	}
}

func TestSyncJournal_RecordHistoryAndLastSuccessfulDate(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	if err := db.LogSyncEvent(ctx, EventStart, "sync started", ""); err != nil {
		t.Fatalf("log start: %v", err)
	}
	if err := db.RecordSyncHistory(ctx, SyncSummary{VulnerabilitiesCount: 3, VulnerabilitiesNew: 3, VulnerabilitiesRemediated: 1, RemediationsCount: 2, RemediationsNew: 2}); err != nil {
		t.Fatalf("record history: %v", err)
	}
	if err := db.LogSyncEvent(ctx, EventComplete, "sync complete", ""); err != nil {
		t.Fatalf("log complete: %v", err)
	}

	last, err := db.GetLastSuccessfulSyncDate(ctx)
	if err != nil {
		t.Fatalf("get last successful sync date: %v", err)
	}
	if !last.Valid {
		t.Fatal("expected a last successful sync date")
	}

	history, err := db.GetSyncHistory(ctx, 10)
	if err != nil {
		t.Fatalf("get sync history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 journal rows (start, summary, complete), got %d", len(history))
	}
}

func TestGetSyncHistory_ClampsLimit(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()
	if err := db.LogSyncEvent(ctx, EventStart, "x", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	history, err := db.GetSyncHistory(ctx, -5)
	if err != nil {
		t.Fatalf("get sync history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected default-limit clamp to still return the single row, got %d", len(history))
	}
}
