package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ListOptions controls the filtered, sorted, paginated vulnerability query.
type ListOptions struct {
	Filters   Filters
	SortBy    string
	SortDir   string
	Limit     int
	Offset    int
}

const defaultLimit = 100

// ListVulnerabilities runs the compiled filter/sort/pagination query against
// the vulnerabilities table.
func (db *DB) ListVulnerabilities(ctx context.Context, opts ListOptions) ([]Vulnerability, error) {
	where, args := opts.Filters.compile()
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, name, description, vulnerability_type, integration_id, target_id,
		package_identifier, severity, cvss_score, scanner_score, is_fixable,
		first_detected, last_detected, remediate_by, deactivated_on,
		related_vulns, related_urls, raw_payload, updated_at
		FROM vulnerabilities`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + orderBy(opts.SortBy, opts.SortDir)
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing vulnerabilities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Vulnerability
	for rows.Next() {
		var v Vulnerability
		var relatedVulns, relatedURLs sql.NullString
		if err := rows.Scan(
			&v.ID, &v.Name, &v.Description, &v.VulnerabilityType, &v.IntegrationID, &v.TargetID,
			&v.PackageIdentifier, &v.Severity, &v.CVSSScore, &v.ScannerScore, &v.IsFixable,
			&v.FirstDetected, &v.LastDetected, &v.RemediateBy, &v.DeactivatedOn,
			&relatedVulns, &relatedURLs, &v.RawPayload, &v.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning vulnerability row: %w", err)
		}
		v.RelatedVulns = splitJSONArray(relatedVulns)
		v.RelatedURLs = splitJSONArray(relatedURLs)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vulnerability rows: %w", err)
	}
	return out, nil
}

func splitJSONArray(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil
	}
	return out
}
