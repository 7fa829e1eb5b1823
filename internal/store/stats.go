package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Statistics is the raw aggregate shape produced under a compiled filter.
// It is handed, unformatted, to the statistics formatter for presentation.
type Statistics struct {
	TotalCount             int
	BySeverity             map[string]int
	ByIntegration          map[string]int
	Fixable                int
	NotFixable             int
	Active                 int
	Deactivated            int
	UniqueAssets           int
	UniqueCVEs             int
	AverageCVSSBySeverity  map[string]float64
	LastSync               sql.NullString
}

// GetStatistics computes grouped counts over the vulnerabilities table
// under the filter's compiled WHERE clause.
func (db *DB) GetStatistics(ctx context.Context, filters Filters) (Statistics, error) {
	where, args := filters.compile()
	whereClause := ""
	if where != "" {
		whereClause = " WHERE " + where
	}

	stats := Statistics{
		BySeverity:            map[string]int{},
		ByIntegration:         map[string]int{},
		AverageCVSSBySeverity: map[string]float64{},
	}

	row := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM vulnerabilities"+whereClause, args...)
	if err := row.Scan(&stats.TotalCount); err != nil {
		return Statistics{}, fmt.Errorf("counting vulnerabilities: %w", err)
	}

	if err := db.groupCount(ctx, "severity", whereClause, args, stats.BySeverity); err != nil {
		return Statistics{}, err
	}
	if err := db.groupCount(ctx, "integration_id", whereClause, args, stats.ByIntegration); err != nil {
		return Statistics{}, err
	}

	fixableWhere := andClause(whereClause, "is_fixable = 1")
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM vulnerabilities"+fixableWhere, args...).Scan(&stats.Fixable); err != nil {
		return Statistics{}, fmt.Errorf("counting fixable: %w", err)
	}
	notFixableWhere := andClause(whereClause, "is_fixable = 0")
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM vulnerabilities"+notFixableWhere, args...).Scan(&stats.NotFixable); err != nil {
		return Statistics{}, fmt.Errorf("counting not-fixable: %w", err)
	}

	activeWhere := andClause(whereClause, "deactivated_on IS NULL")
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM vulnerabilities"+activeWhere, args...).Scan(&stats.Active); err != nil {
		return Statistics{}, fmt.Errorf("counting active: %w", err)
	}
	deactivatedWhere := andClause(whereClause, "deactivated_on IS NOT NULL")
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM vulnerabilities"+deactivatedWhere, args...).Scan(&stats.Deactivated); err != nil {
		return Statistics{}, fmt.Errorf("counting deactivated: %w", err)
	}

	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(DISTINCT target_id) FROM vulnerabilities"+whereClause, args...).Scan(&stats.UniqueAssets); err != nil {
		return Statistics{}, fmt.Errorf("counting unique assets: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(DISTINCT name) FROM vulnerabilities"+whereClause, args...).Scan(&stats.UniqueCVEs); err != nil {
		return Statistics{}, fmt.Errorf("counting unique cves: %w", err)
	}

	if err := db.averageCVSSBySeverity(ctx, whereClause, args, stats.AverageCVSSBySeverity); err != nil {
		return Statistics{}, err
	}

	lastSync, err := db.GetLastSyncDate(ctx)
	if err != nil {
		return Statistics{}, err
	}
	stats.LastSync = lastSync

	return stats, nil
}

// AssetVulnerabilityCount is one row of the per-asset vulnerability tally
// behind the statistics formatter's top-N asset list.
type AssetVulnerabilityCount struct {
	AssetID   string
	Name      string
	AssetType string
	Total     int
	Critical  int
	High      int
}

// GetTopAssetsByVulnerabilityCount ranks assets by their total vulnerability
// count under the filter's compiled WHERE clause, joined against the assets
// table for display name and type. limit <= 0 falls back to 10.
func (db *DB) GetTopAssetsByVulnerabilityCount(ctx context.Context, filters Filters, limit int) ([]AssetVulnerabilityCount, error) {
	if limit <= 0 {
		limit = 10
	}
	where, args := filters.compile()
	whereClause := ""
	if where != "" {
		whereClause = " WHERE " + where
	}

	query := fmt.Sprintf(`SELECT v.target_id,
		COALESCE(a.name, ''), COALESCE(a.asset_type, ''),
		COUNT(*),
		SUM(CASE WHEN v.severity = 'CRITICAL' THEN 1 ELSE 0 END),
		SUM(CASE WHEN v.severity = 'HIGH' THEN 1 ELSE 0 END)
		FROM vulnerabilities v
		LEFT JOIN assets a ON a.id = v.target_id
		%s
		GROUP BY v.target_id
		ORDER BY COUNT(*) DESC
		LIMIT ?`, andClause(whereClause, "v.target_id IS NOT NULL"))
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ranking assets by vulnerability count: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AssetVulnerabilityCount
	for rows.Next() {
		var c AssetVulnerabilityCount
		if err := rows.Scan(&c.AssetID, &c.Name, &c.AssetType, &c.Total, &c.Critical, &c.High); err != nil {
			return nil, fmt.Errorf("scanning asset count row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating asset count rows: %w", err)
	}
	return out, nil
}

func (db *DB) groupCount(ctx context.Context, column, whereClause string, args []any, into map[string]int) error {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM vulnerabilities%s GROUP BY %s", column, whereClause, column)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("grouping by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key sql.NullString
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scanning %s group row: %w", column, err)
		}
		label := "UNKNOWN"
		if key.Valid && key.String != "" {
			label = key.String
		}
		into[label] += count
	}
	return rows.Err()
}

func (db *DB) averageCVSSBySeverity(ctx context.Context, whereClause string, args []any, into map[string]float64) error {
	query := fmt.Sprintf(`SELECT severity, AVG(cvss_score) FROM vulnerabilities%s GROUP BY severity`,
		andClause(whereClause, "cvss_score IS NOT NULL"))
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("averaging cvss by severity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var severity sql.NullString
		var avg sql.NullFloat64
		if err := rows.Scan(&severity, &avg); err != nil {
			return fmt.Errorf("scanning cvss average row: %w", err)
		}
		if !avg.Valid {
			continue
		}
		label := "unknown"
		if severity.Valid && severity.String != "" {
			label = lowercase(severity.String)
		}
		into[label] = avg.Float64
	}
	return rows.Err()
}

func andClause(whereClause, extra string) string {
	if whereClause == "" {
		return " WHERE " + extra
	}
	return whereClause + " AND " + extra
}

func lowercase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
