package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventType enumerates the sync-journal row kinds.
type EventType string

const (
	EventStart    EventType = "start"
	EventBatch    EventType = "batch"
	EventFlush    EventType = "flush"
	EventPause    EventType = "pause"
	EventResume   EventType = "resume"
	EventStop     EventType = "stop"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// LogSyncEvent appends one event row to the journal. Event rows are never
// mutated after insertion.
func (db *DB) LogSyncEvent(ctx context.Context, eventType EventType, message string, details string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_events (sync_date, event_type, message, details) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(eventType), message, details,
	)
	if err != nil {
		return fmt.Errorf("logging sync event %s: %w", eventType, err)
	}
	return nil
}

// SyncSummary is the cumulative-count shape recorded at the end of a
// session, covering both vulnerability and remediation streams.
type SyncSummary struct {
	VulnerabilitiesCount      int
	VulnerabilitiesNew        int
	VulnerabilitiesUpdated    int
	VulnerabilitiesRemediated int
	RemediationsCount         int
	RemediationsNew          int
	RemediationsUpdated      int
}

// RecordSyncHistory appends a denormalized summary row (event_type = NULL)
// with cumulative counts written to both the semantic columns and the
// legacy alias columns in the same row.
func (db *DB) RecordSyncHistory(ctx context.Context, summary SyncSummary) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_events (
			sync_date, event_type,
			vulnerabilities_count, vulnerabilities_new, vulnerabilities_updated, vulnerabilities_remediated,
			remediations_count, remediations_new, remediations_updated,
			new_count, updated_count, remediated_count
		) VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		time.Now().UTC().Format(time.RFC3339Nano),
		summary.VulnerabilitiesCount, summary.VulnerabilitiesNew, summary.VulnerabilitiesUpdated, summary.VulnerabilitiesRemediated,
		summary.RemediationsCount, summary.RemediationsNew, summary.RemediationsUpdated,
		summary.VulnerabilitiesNew+summary.RemediationsNew,
		summary.VulnerabilitiesUpdated+summary.RemediationsUpdated,
		summary.VulnerabilitiesRemediated,
	)
	if err != nil {
		return fmt.Errorf("recording sync history: %w", err)
	}
	return nil
}

// SyncHistoryRow is one journal row as returned by GetSyncHistory. Callers
// must tolerate both per-event rows (EventType set) and legacy summary rows
// (EventType empty).
type SyncHistoryRow struct {
	ID        int64
	SyncDate  string
	EventType string
	Message   sql.NullString
	Details   sql.NullString
	Summary   SyncSummary
}

// GetSyncHistory returns journal rows ordered by sync_date descending,
// clamping limit into [1, 100000] (default 100000 when limit <= 0).
func (db *DB) GetSyncHistory(ctx context.Context, limit int) ([]SyncHistoryRow, error) {
	const maxLimit = 100_000
	if limit <= 0 {
		limit = maxLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, sync_date, event_type, message, details,
			vulnerabilities_count, vulnerabilities_new, vulnerabilities_updated, vulnerabilities_remediated,
			remediations_count, remediations_new, remediations_updated
		FROM sync_events ORDER BY sync_date DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading sync history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SyncHistoryRow
	for rows.Next() {
		var r SyncHistoryRow
		var eventType sql.NullString
		var vc, vn, vu, vr, rc, rn, ru sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SyncDate, &eventType, &r.Message, &r.Details,
			&vc, &vn, &vu, &vr, &rc, &rn, &ru); err != nil {
			return nil, fmt.Errorf("scanning sync history row: %w", err)
		}
		r.EventType = eventType.String
		r.Summary = SyncSummary{
			VulnerabilitiesCount: int(vc.Int64), VulnerabilitiesNew: int(vn.Int64),
			VulnerabilitiesUpdated: int(vu.Int64), VulnerabilitiesRemediated: int(vr.Int64),
			RemediationsCount: int(rc.Int64), RemediationsNew: int(rn.Int64), RemediationsUpdated: int(ru.Int64),
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetLastSuccessfulSyncDate returns the sync_date of the most recent
// "complete" event, or the zero value (Valid=false) if none exists. This is
// the incremental-mode cursor: it must not consider any other event type.
func (db *DB) GetLastSuccessfulSyncDate(ctx context.Context) (sql.NullString, error) {
	var date sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT sync_date FROM sync_events WHERE event_type = ? ORDER BY sync_date DESC, id DESC LIMIT 1`,
		string(EventComplete),
	).Scan(&date)
	if err == sql.ErrNoRows {
		return sql.NullString{}, nil
	}
	if err != nil {
		return sql.NullString{}, fmt.Errorf("reading last successful sync date: %w", err)
	}
	return date, nil
}

// GetLastSyncDate returns the sync_date of the most recent journal row of
// any event type (unlike GetLastSuccessfulSyncDate, which only considers
// "complete" rows), or the zero value (Valid=false) if the journal is empty.
// This backs the statistics summary's last_sync field.
func (db *DB) GetLastSyncDate(ctx context.Context) (sql.NullString, error) {
	var date sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT sync_date FROM sync_events ORDER BY sync_date DESC, id DESC LIMIT 1`,
	).Scan(&date)
	if err == sql.ErrNoRows {
		return sql.NullString{}, nil
	}
	if err != nil {
		return sql.NullString{}, fmt.Errorf("reading last sync date: %w", err)
	}
	return date, nil
}
