package vantaclient

import (
	"context"
	"encoding/json"

	"github.com/wisbric/vulnsync/internal/telemetry"
)

// OnPage is invoked once per fetched page, with the raw (undecoded) records
// in API order. The caller must finish processing a page before paginate
// requests the next one; paginate does not buffer ahead.
type OnPage func(ctx context.Context, records []json.RawMessage) error

// Paginate walks every page of endpoint, applying filters, until the API
// reports no further pages. Page size starts at maxPageSize and may be
// degraded (halved) by fetchPage on persistent 5xx errors; a degraded size
// carries forward to subsequent pages rather than resetting.
func (c *Client) Paginate(ctx context.Context, endpoint string, filters map[string]string, onPage OnPage) error {
	cursor := ""
	pageSize := maxPageSize

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := c.fetchPage(ctx, endpoint, filters, cursor, pageSize)
		if err != nil {
			return err
		}
		pageSize = result.pageSize
		telemetry.PagesFetchedTotal.WithLabelValues(endpoint).Inc()

		if len(result.page.Results.Data) > 0 {
			if err := onPage(ctx, result.page.Results.Data); err != nil {
				return err
			}
		}

		if !result.page.Results.PageInfo.HasNextPage {
			return nil
		}
		cursor = result.page.Results.PageInfo.EndCursor
	}
}
