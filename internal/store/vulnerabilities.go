package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// existingPayload is the bulk-lookup projection: only the columns needed to
// classify the incoming row, never the full row.
type existingPayload struct {
	rawPayload    string
	deactivatedOn sql.NullString
}

// UpsertVulnerabilitiesBatch classifies and writes a batch of raw wire
// records within a single transaction: one bulk lookup of existing rows
// keyed by id, followed by one upsert per incoming row. It never issues a
// per-row SELECT.
func (db *DB) UpsertVulnerabilitiesBatch(ctx context.Context, records []json.RawMessage, now time.Time) (BatchStats, error) {
	if len(records) == 0 {
		return BatchStats{}, nil
	}

	decoded := make([]Vulnerability, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, raw := range records {
		v, err := decodeVulnerability(raw, now.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return BatchStats{}, fmt.Errorf("decoding vulnerability: %w", err)
		}
		if v.ID == "" {
			continue
		}
		decoded = append(decoded, v)
		ids = append(ids, v.ID)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return BatchStats{}, fmt.Errorf("beginning vulnerabilities batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := bulkLookupVulnerabilities(ctx, tx, ids)
	if err != nil {
		return BatchStats{}, err
	}

	stats := BatchStats{Total: len(records)}
	upsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vulnerabilities (
			id, name, description, vulnerability_type, integration_id, target_id,
			package_identifier, severity, cvss_score, scanner_score, is_fixable,
			first_detected, last_detected, remediate_by, deactivated_on,
			related_vulns, related_urls, raw_payload, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description,
			vulnerability_type=excluded.vulnerability_type, integration_id=excluded.integration_id,
			target_id=excluded.target_id, package_identifier=excluded.package_identifier,
			severity=excluded.severity, cvss_score=excluded.cvss_score,
			scanner_score=excluded.scanner_score, is_fixable=excluded.is_fixable,
			first_detected=excluded.first_detected, last_detected=excluded.last_detected,
			remediate_by=excluded.remediate_by, deactivated_on=excluded.deactivated_on,
			related_vulns=excluded.related_vulns, related_urls=excluded.related_urls,
			raw_payload=excluded.raw_payload, updated_at=excluded.updated_at
	`)
	if err != nil {
		return BatchStats{}, fmt.Errorf("preparing vulnerability upsert: %w", err)
	}
	defer func() { _ = upsertStmt.Close() }()

	for _, v := range decoded {
		prior, wasKnown := existing[v.ID]
		switch {
		case !wasKnown:
			stats.New++
			if v.DeactivatedOn.Valid {
				stats.Remediated++
			}
		case prior.rawPayload != v.RawPayload:
			stats.Updated++
			if !prior.deactivatedOn.Valid && v.DeactivatedOn.Valid {
				stats.Remediated++
			}
		}

		relatedVulns, _ := json.Marshal(v.RelatedVulns)
		relatedURLs, _ := json.Marshal(v.RelatedURLs)
		if _, err := upsertStmt.ExecContext(ctx,
			v.ID, v.Name, v.Description, v.VulnerabilityType, v.IntegrationID, v.TargetID,
			v.PackageIdentifier, v.Severity, v.CVSSScore, v.ScannerScore, v.IsFixable,
			v.FirstDetected, v.LastDetected, v.RemediateBy, v.DeactivatedOn,
			string(relatedVulns), string(relatedURLs), v.RawPayload, v.UpdatedAt,
		); err != nil {
			return BatchStats{}, fmt.Errorf("upserting vulnerability %s: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchStats{}, fmt.Errorf("committing vulnerabilities batch: %w", err)
	}
	return stats, nil
}

func bulkLookupVulnerabilities(ctx context.Context, tx *sql.Tx, ids []string) (map[string]existingPayload, error) {
	if len(ids) == 0 {
		return map[string]existingPayload{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, raw_payload, deactivated_on FROM vulnerabilities WHERE id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bulk lookup vulnerabilities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]existingPayload, len(ids))
	for rows.Next() {
		var id string
		var p existingPayload
		if err := rows.Scan(&id, &p.rawPayload, &p.deactivatedOn); err != nil {
			return nil, fmt.Errorf("scanning vulnerability lookup row: %w", err)
		}
		out[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vulnerability lookup rows: %w", err)
	}
	return out, nil
}
