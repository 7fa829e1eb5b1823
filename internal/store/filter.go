package store

import (
	"fmt"
	"strings"
)

// Filters is the externally-supplied filter map, compiled into a SQL WHERE
// clause against a closed set of recognized keys. Unrecognized keys are
// silently ignored.
type Filters map[string]string

// compile builds a WHERE clause (without the leading "WHERE") and its
// positional arguments from the recognized subset of f. An empty/all-unknown
// filter map compiles to an empty clause.
func (f Filters) compile() (string, []any) {
	var clauses []string
	var args []any

	if v, ok := f["severity"]; ok && v != "" {
		severities := strings.Split(v, ",")
		placeholders := make([]string, len(severities))
		for i, s := range severities {
			placeholders[i] = "?"
			args = append(args, strings.TrimSpace(s))
		}
		clauses = append(clauses, fmt.Sprintf("severity IN (%s)", strings.Join(placeholders, ",")))
	}

	if v, ok := f["status"]; ok {
		switch v {
		case "active":
			clauses = append(clauses, "deactivated_on IS NULL")
		case "deactivated":
			clauses = append(clauses, "deactivated_on IS NOT NULL")
		}
	}

	if v, ok := f["fixable"]; ok {
		switch v {
		case "fixable":
			clauses = append(clauses, "is_fixable = 1")
		case "not_fixable":
			clauses = append(clauses, "is_fixable = 0")
		}
	}

	if v, ok := f["integration"]; ok && v != "" {
		clauses = append(clauses, "integration_id LIKE ?")
		args = append(args, like(v))
	}

	if v, ok := f["asset_id"]; ok && v != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, v)
	}

	if v, ok := f["cve"]; ok && v != "" {
		clauses = append(clauses, "(name LIKE ? OR related_vulns LIKE ?)")
		args = append(args, like(v), like(v))
	}

	if v, ok := f["search"]; ok && v != "" {
		clauses = append(clauses, "(name LIKE ? OR description LIKE ? OR id LIKE ?)")
		args = append(args, like(v), like(v), like(v))
	}

	if v, ok := f["date_identified_start"]; ok && v != "" {
		clauses = append(clauses, "first_detected >= ?")
		args = append(args, v)
	}
	if v, ok := f["date_identified_end"]; ok && v != "" {
		clauses = append(clauses, "first_detected <= ?")
		args = append(args, v)
	}

	if v, ok := f["date_remediated_start"]; ok && v != "" {
		clauses = append(clauses, "deactivated_on >= ?")
		args = append(args, v)
	}
	if v, ok := f["date_remediated_end"]; ok && v != "" {
		clauses = append(clauses, "deactivated_on <= ?")
		args = append(args, v)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, " AND "), args
}

func like(v string) string {
	return "%" + v + "%"
}

// sortColumns is the closed whitelist; anything else falls back to
// first_detected.
var sortColumns = map[string]bool{
	"id": true, "name": true, "severity": true, "integration_id": true,
	"target_id": true, "first_detected": true, "status": true,
}

// orderBy compiles a sort column + direction into an ORDER BY clause body
// (without "ORDER BY"), applying the special-cased status/severity orderings
// and a nulls-last tiebreak on name for every other column.
func orderBy(column, direction string) string {
	dir := "DESC"
	if strings.EqualFold(direction, "asc") {
		dir = "ASC"
	}
	if !sortColumns[column] {
		column = "first_detected"
	}

	switch column {
	case "status":
		return fmt.Sprintf("(deactivated_on IS NULL) %s, name ASC", dir)
	case "severity":
		return fmt.Sprintf(`CASE severity
			WHEN 'CRITICAL' THEN 1
			WHEN 'HIGH' THEN 2
			WHEN 'MEDIUM' THEN 3
			WHEN 'LOW' THEN 4
			WHEN 'INFO' THEN 5
			ELSE 6
		END %s, name ASC`, dir)
	default:
		return fmt.Sprintf("(%s IS NULL), %s %s, name ASC", column, column, dir)
	}
}
