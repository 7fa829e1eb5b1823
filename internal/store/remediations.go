package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UpsertRemediationsBatch classifies and writes a batch of raw wire
// remediation records within a single transaction. Remediations have no
// deactivation concept of their own, so the classification yields only
// {new, updated, total}.
func (db *DB) UpsertRemediationsBatch(ctx context.Context, records []json.RawMessage, now time.Time) (BatchStats, error) {
	if len(records) == 0 {
		return BatchStats{}, nil
	}

	decoded := make([]Remediation, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, raw := range records {
		r, err := decodeRemediation(raw, now.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return BatchStats{}, fmt.Errorf("decoding remediation: %w", err)
		}
		if r.ID == "" {
			continue
		}
		decoded = append(decoded, r)
		ids = append(ids, r.ID)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return BatchStats{}, fmt.Errorf("beginning remediations batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := bulkLookupRawPayloads(ctx, tx, "remediations", ids)
	if err != nil {
		return BatchStats{}, err
	}

	stats := BatchStats{Total: len(records)}
	upsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO remediations (
			id, vulnerability_id, vulnerable_asset_id, severity, detected_date,
			sla_deadline_date, remediation_date, remediated_on_time, integration_id,
			integration_type, status, raw_payload, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vulnerability_id=excluded.vulnerability_id, vulnerable_asset_id=excluded.vulnerable_asset_id,
			severity=excluded.severity, detected_date=excluded.detected_date,
			sla_deadline_date=excluded.sla_deadline_date, remediation_date=excluded.remediation_date,
			remediated_on_time=excluded.remediated_on_time, integration_id=excluded.integration_id,
			integration_type=excluded.integration_type, status=excluded.status,
			raw_payload=excluded.raw_payload, updated_at=excluded.updated_at
	`)
	if err != nil {
		return BatchStats{}, fmt.Errorf("preparing remediation upsert: %w", err)
	}
	defer func() { _ = upsertStmt.Close() }()

	for _, r := range decoded {
		prior, wasKnown := existing[r.ID]
		switch {
		case !wasKnown:
			stats.New++
		case prior != r.RawPayload:
			stats.Updated++
		}

		if _, err := upsertStmt.ExecContext(ctx,
			r.ID, r.VulnerabilityID, r.VulnerableAssetID, r.Severity, r.DetectedDate,
			r.SLADeadlineDate, r.RemediationDate, r.RemediatedOnTime, r.IntegrationID,
			r.IntegrationType, r.Status, r.RawPayload, r.UpdatedAt,
		); err != nil {
			return BatchStats{}, fmt.Errorf("upserting remediation %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchStats{}, fmt.Errorf("committing remediations batch: %w", err)
	}
	return stats, nil
}

// bulkLookupRawPayloads is the shared {id: raw_payload} lookup used by the
// remediation and asset upserts, which (unlike vulnerabilities) don't need
// the deactivation column to classify a row.
func bulkLookupRawPayloads(ctx context.Context, tx *sql.Tx, table string, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, raw_payload FROM %s WHERE id IN (%s)`, table, strings.Join(placeholders, ","))
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bulk lookup %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scanning %s lookup row: %w", table, err)
		}
		out[id] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s lookup rows: %w", table, err)
	}
	return out, nil
}
