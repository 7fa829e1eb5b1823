// Package statsfmt transforms raw aggregate statistics into the
// presentation-ready shapes a thin client renders: sorted label/value lists,
// percentages, and a top-N asset breakdown. It performs no I/O.
package statsfmt

import (
	"fmt"
	"math"
	"sort"

	"github.com/wisbric/vulnsync/internal/store"
)

// Count is one bucket of a sorted label/value breakdown.
type Count struct {
	Label      string `json:"label"`
	Value      int    `json:"value"`
	Percentage string `json:"percentage"`
}

// AssetRanking is one row of the top-N asset breakdown, with a display
// label combining the asset's name and type.
type AssetRanking struct {
	AssetID         string `json:"asset_id"`
	Label           string `json:"label"`
	Total           int    `json:"total"`
	Critical        int    `json:"critical"`
	High            int    `json:"high"`
	CriticalAndHigh int    `json:"critical_and_high"`
}

// Summary is the fully formatted view of a store.Statistics value plus a
// top-N asset ranking, ready to hand to a presentation layer.
type Summary struct {
	TotalCount                     int                `json:"total_count"`
	BySeverity                     []Count            `json:"by_severity"`
	ByIntegration                  []Count            `json:"by_integration"`
	Fixable                        int                `json:"fixable"`
	NotFixable                     int                `json:"not_fixable"`
	Active                         int                `json:"active"`
	Deactivated                    int                `json:"deactivated"`
	UniqueAssets                   int                `json:"unique_assets"`
	UniqueCVEs                     int                `json:"unique_cves"`
	AverageCVSSBySeverity          map[string]float64 `json:"average_cvss_by_severity"`
	AverageVulnerabilitiesPerAsset float64            `json:"average_vulnerabilities_per_asset"`
	TopAssets                      []AssetRanking     `json:"top_assets"`
	LastSync                       *string            `json:"last_sync,omitempty"`
}

// Format builds a Summary from raw statistics and a pre-ranked asset list
// (see store.GetTopAssetsByVulnerabilityCount). assets may be nil or empty.
func Format(stats store.Statistics, assets []store.AssetVulnerabilityCount) Summary {
	s := Summary{
		TotalCount:            stats.TotalCount,
		BySeverity:            sortedCounts(stats.BySeverity, stats.TotalCount),
		ByIntegration:         sortedCounts(stats.ByIntegration, stats.TotalCount),
		Fixable:               stats.Fixable,
		NotFixable:            stats.NotFixable,
		Active:                stats.Active,
		Deactivated:           stats.Deactivated,
		UniqueAssets:          stats.UniqueAssets,
		UniqueCVEs:            stats.UniqueCVEs,
		AverageCVSSBySeverity: stats.AverageCVSSBySeverity,
		TopAssets:             rankAssets(assets),
	}

	if stats.UniqueAssets > 0 {
		s.AverageVulnerabilitiesPerAsset = round2(float64(stats.TotalCount) / float64(stats.UniqueAssets))
	}

	if stats.LastSync.Valid {
		last := stats.LastSync.String
		s.LastSync = &last
	}

	return s
}

// sortedCounts turns a raw group-by map into a value-descending Count slice,
// breaking ties alphabetically by label for deterministic output. Empty or
// missing labels are expected to already be bucketed as "UNKNOWN" by the
// caller's aggregation query.
func sortedCounts(raw map[string]int, total int) []Count {
	out := make([]Count, 0, len(raw))
	for label, value := range raw {
		if label == "" {
			label = "UNKNOWN"
		}
		out = append(out, Count{Label: label, Value: value, Percentage: percentage(value, total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// percentage formats value/total as a one-decimal percentage string.
// total = 0 always yields "0.0%", never a division by zero.
func percentage(value, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(value)/float64(total)*100)
}

func rankAssets(assets []store.AssetVulnerabilityCount) []AssetRanking {
	if len(assets) == 0 {
		return nil
	}
	out := make([]AssetRanking, 0, len(assets))
	for _, a := range assets {
		out = append(out, AssetRanking{
			AssetID:         a.AssetID,
			Label:           assetLabel(a.Name, a.AssetType),
			Total:           a.Total,
			Critical:        a.Critical,
			High:            a.High,
			CriticalAndHigh: a.Critical + a.High,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// assetLabel composes the "<name> (<type>)" display label, falling back to
// "Unknown" for a blank name and "unknown" for a blank type (distinct from
// the all-caps "UNKNOWN" group-by bucketing above).
func assetLabel(name, assetType string) string {
	if name == "" {
		name = "Unknown"
	}
	if assetType == "" {
		assetType = "unknown"
	}
	return fmt.Sprintf("%s (%s)", name, assetType)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
