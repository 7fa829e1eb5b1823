package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertAssetsBatch classifies and writes a batch of raw wire asset records
// within a single transaction, yielding {new, updated, total}.
func (db *DB) UpsertAssetsBatch(ctx context.Context, records []json.RawMessage, now time.Time) (BatchStats, error) {
	if len(records) == 0 {
		return BatchStats{}, nil
	}

	decoded := make([]Asset, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, raw := range records {
		a, err := decodeAsset(raw, now.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return BatchStats{}, fmt.Errorf("decoding asset: %w", err)
		}
		if a.ID == "" {
			continue
		}
		decoded = append(decoded, a)
		ids = append(ids, a.ID)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return BatchStats{}, fmt.Errorf("beginning assets batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := bulkLookupRawPayloads(ctx, tx, "assets", ids)
	if err != nil {
		return BatchStats{}, err
	}

	stats := BatchStats{Total: len(records)}
	upsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assets (
			id, name, asset_type, integration_id, environment, platform, owner,
			external_identifier, hostname, ip_address, mac_address, raw_payload, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, asset_type=excluded.asset_type, integration_id=excluded.integration_id,
			environment=excluded.environment, platform=excluded.platform, owner=excluded.owner,
			external_identifier=excluded.external_identifier, hostname=excluded.hostname,
			ip_address=excluded.ip_address, mac_address=excluded.mac_address,
			raw_payload=excluded.raw_payload, updated_at=excluded.updated_at
	`)
	if err != nil {
		return BatchStats{}, fmt.Errorf("preparing asset upsert: %w", err)
	}
	defer func() { _ = upsertStmt.Close() }()

	for _, a := range decoded {
		prior, wasKnown := existing[a.ID]
		switch {
		case !wasKnown:
			stats.New++
		case prior != a.RawPayload:
			stats.Updated++
		}

		if _, err := upsertStmt.ExecContext(ctx,
			a.ID, a.Name, a.AssetType, a.IntegrationID, a.Environment, a.Platform, a.Owner,
			a.ExternalIdentifier, a.Hostname, a.IPAddress, a.MACAddress, a.RawPayload, a.UpdatedAt,
		); err != nil {
			return BatchStats{}, fmt.Errorf("upserting asset %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchStats{}, fmt.Errorf("committing assets batch: %w", err)
	}
	return stats, nil
}
