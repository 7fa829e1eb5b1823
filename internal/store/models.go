package store

import (
	"database/sql"
	"encoding/json"
)

// Vulnerability is the projected column layout for a vulnerability finding.
// raw_payload always carries the full, verbatim wire record.
type Vulnerability struct {
	ID                 string
	Name               sql.NullString
	Description        sql.NullString
	VulnerabilityType  sql.NullString
	IntegrationID      sql.NullString
	TargetID           sql.NullString
	PackageIdentifier  sql.NullString
	Severity           sql.NullString
	CVSSScore          sql.NullFloat64
	ScannerScore       sql.NullFloat64
	IsFixable          sql.NullBool
	FirstDetected      sql.NullString
	LastDetected       sql.NullString
	RemediateBy        sql.NullString
	DeactivatedOn      sql.NullString
	RelatedVulns       []string
	RelatedURLs        []string
	RawPayload         string
	UpdatedAt          string
}

// Remediation is the projected column layout for a remediation record.
type Remediation struct {
	ID                string
	VulnerabilityID   sql.NullString
	VulnerableAssetID sql.NullString
	Severity          sql.NullString
	DetectedDate      sql.NullString
	SLADeadlineDate   sql.NullString
	RemediationDate   sql.NullString
	RemediatedOnTime  sql.NullBool
	IntegrationID     sql.NullString
	IntegrationType   sql.NullString
	Status            sql.NullString
	RawPayload        string
	UpdatedAt         string
}

// Asset is the projected column layout for an asset-correlation record.
type Asset struct {
	ID                 string
	Name               sql.NullString
	AssetType          sql.NullString
	IntegrationID      sql.NullString
	Environment        sql.NullString
	Platform           sql.NullString
	Owner              sql.NullString
	ExternalIdentifier sql.NullString
	Hostname           sql.NullString
	IPAddress          sql.NullString
	MACAddress         sql.NullString
	RawPayload         string
	UpdatedAt          string
}

// BatchStats is the classification outcome of one batch upsert.
type BatchStats struct {
	New         int
	Updated     int
	Remediated  int
	Total       int
}

// wireVulnerability mirrors the remote API's vulnerability JSON shape. Only
// the closed set of fields the core projects into typed columns is decoded;
// everything else stays opaque inside the raw payload.
type wireVulnerability struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	VulnerabilityType string   `json:"vulnerabilityType"`
	IntegrationID     string   `json:"integrationId"`
	TargetID          string   `json:"targetId"`
	PackageIdentifier string   `json:"packageIdentifier"`
	Severity          string   `json:"severity"`
	CVSSSeverityScore *float64 `json:"cvssSeverityScore"`
	ScannerScore      *float64 `json:"scannerScore"`
	FixAvailable      *bool    `json:"fixAvailable"`
	FirstSeenDate     string   `json:"firstSeenDate"`
	LastSeenDate      string   `json:"lastSeenDate"`
	RemediateByDate   string   `json:"remediateByDate"`
	RelatedVulns      []string `json:"relatedVulns"`
	RelatedURLs       []string `json:"relatedUrls"`
	DeactivateMetadata *struct {
		DeactivatedOnDate string `json:"deactivatedOnDate"`
	} `json:"deactivateMetadata"`
}

func decodeVulnerability(raw json.RawMessage, updatedAt string) (Vulnerability, error) {
	var w wireVulnerability
	if err := json.Unmarshal(raw, &w); err != nil {
		return Vulnerability{}, err
	}
	v := Vulnerability{
		ID:                w.ID,
		Name:              nullStr(w.Name),
		Description:       nullStr(w.Description),
		VulnerabilityType: nullStr(w.VulnerabilityType),
		IntegrationID:     nullStr(w.IntegrationID),
		TargetID:          nullStr(w.TargetID),
		PackageIdentifier: nullStr(w.PackageIdentifier),
		Severity:          nullStr(w.Severity),
		FirstDetected:     nullStr(w.FirstSeenDate),
		LastDetected:      nullStr(w.LastSeenDate),
		RemediateBy:       nullStr(w.RemediateByDate),
		RelatedVulns:      w.RelatedVulns,
		RelatedURLs:       w.RelatedURLs,
		RawPayload:        string(raw),
		UpdatedAt:         updatedAt,
	}
	if w.CVSSSeverityScore != nil {
		v.CVSSScore = sql.NullFloat64{Float64: *w.CVSSSeverityScore, Valid: true}
	}
	if w.ScannerScore != nil {
		v.ScannerScore = sql.NullFloat64{Float64: *w.ScannerScore, Valid: true}
	}
	if w.FixAvailable != nil {
		v.IsFixable = sql.NullBool{Bool: *w.FixAvailable, Valid: true}
	}
	if w.DeactivateMetadata != nil && w.DeactivateMetadata.DeactivatedOnDate != "" {
		v.DeactivatedOn = sql.NullString{String: w.DeactivateMetadata.DeactivatedOnDate, Valid: true}
	}
	return v, nil
}

type wireRemediation struct {
	ID                string `json:"id"`
	VulnerabilityID   string `json:"vulnerabilityId"`
	VulnerableAssetID string `json:"vulnerableAssetId"`
	Severity          string `json:"severity"`
	DetectedDate      string `json:"detectedDate"`
	SLADeadlineDate   string `json:"slaDeadlineDate"`
	RemediationDate   string `json:"remediationDate"`
	RemediatedOnTime  *bool  `json:"remediatedOnTime"`
	IntegrationID     string `json:"integrationId"`
	IntegrationType   string `json:"integrationType"`
	Status            string `json:"status"`
}

func decodeRemediation(raw json.RawMessage, updatedAt string) (Remediation, error) {
	var w wireRemediation
	if err := json.Unmarshal(raw, &w); err != nil {
		return Remediation{}, err
	}
	r := Remediation{
		ID:                w.ID,
		VulnerabilityID:   nullStr(w.VulnerabilityID),
		VulnerableAssetID: nullStr(w.VulnerableAssetID),
		Severity:          nullStr(w.Severity),
		DetectedDate:      nullStr(w.DetectedDate),
		SLADeadlineDate:   nullStr(w.SLADeadlineDate),
		RemediationDate:   nullStr(w.RemediationDate),
		IntegrationID:     nullStr(w.IntegrationID),
		IntegrationType:   nullStr(w.IntegrationType),
		Status:            nullStr(w.Status),
		RawPayload:        string(raw),
		UpdatedAt:         updatedAt,
	}
	if w.RemediatedOnTime != nil {
		r.RemediatedOnTime = sql.NullBool{Bool: *w.RemediatedOnTime, Valid: true}
	}
	return r, nil
}

type wireAsset struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	AssetType          string `json:"assetType"`
	IntegrationID      string `json:"integrationId"`
	Environment        string `json:"environment"`
	Platform           string `json:"platform"`
	Owner              string `json:"owner"`
	ExternalIdentifier string `json:"externalIdentifier"`
	Hostname           string `json:"hostname"`
	IPAddress          string `json:"ipAddress"`
	MACAddress         string `json:"macAddress"`
}

func decodeAsset(raw json.RawMessage, updatedAt string) (Asset, error) {
	var w wireAsset
	if err := json.Unmarshal(raw, &w); err != nil {
		return Asset{}, err
	}
	return Asset{
		ID:                 w.ID,
		Name:               nullStr(w.Name),
		AssetType:          nullStr(w.AssetType),
		IntegrationID:      nullStr(w.IntegrationID),
		Environment:        nullStr(w.Environment),
		Platform:           nullStr(w.Platform),
		Owner:              nullStr(w.Owner),
		ExternalIdentifier: nullStr(w.ExternalIdentifier),
		Hostname:           nullStr(w.Hostname),
		IPAddress:          nullStr(w.IPAddress),
		MACAddress:         nullStr(w.MACAddress),
		RawPayload:         string(raw),
		UpdatedAt:          updatedAt,
	}, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
