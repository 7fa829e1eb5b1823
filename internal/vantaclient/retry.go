package vantaclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wisbric/vulnsync/internal/telemetry"
)

// fetchResult is the outcome of one successful page fetch, carrying the
// page size actually used (after any degradation).
type fetchResult struct {
	page     *page
	pageSize int
}

// fetchPage implements request_with_retry (spec §4.2) for a single cursor.
// On a 5xx that survives all retries for the current page size, the page
// size is halved (floor 1) and the whole retry budget resets for the
// smaller page size, per the page-size degradation rule.
func (c *Client) fetchPage(ctx context.Context, endpoint string, filters map[string]string, cursor string, pageSize int) (*fetchResult, error) {
	for {
		p, err := c.fetchPageAtSize(ctx, endpoint, filters, cursor, pageSize)
		if err == nil {
			return &fetchResult{page: p, pageSize: pageSize}, nil
		}

		var deg degradableErr
		if errors.As(err, &deg) && pageSize > 1 {
			degraded := pageSize / 2
			if degraded < 1 {
				degraded = 1
			}
			telemetry.PageSizeDegradations.WithLabelValues(endpoint).Inc()
			c.logger.Warn("degrading page size after persistent 5xx",
				"endpoint", endpoint, "from", pageSize, "to", degraded, "cursor", cursor)
			pageSize = degraded
			continue
		}

		return nil, err
	}
}

// degradableErr marks an error as eligible for page-size degradation, i.e.
// the retry budget at the current page size was exhausted by 5xx responses
// rather than by cancellation or a non-retryable 4xx.
type degradableErr struct{ error }

func (d degradableErr) Unwrap() error { return d.error }

// fetchPageAtSize runs the full request_with_retry loop (max 5 retries) at a
// fixed page size.
func (c *Client) fetchPageAtSize(ctx context.Context, endpoint string, filters map[string]string, cursor string, pageSize int) (*page, error) {
	query := make(map[string]string, len(filters)+2)
	for k, v := range filters {
		query[k] = v
	}
	query["pageSize"] = strconv.Itoa(pageSize)
	if cursor != "" {
		query["pageCursor"] = cursor
	}

	force := false
	var lastErr error
	sawServerError := false

retryLoop:
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestCancelled, ctx.Err())
		}

		p, resp, err := c.requestOnce(ctx, endpoint, query, force)
		force = false

		if err != nil {
			lastErr = err
			if errors.Is(err, ErrRequestCancelled) {
				return nil, err
			}
			sawServerError = true
			telemetry.RequestRetriesTotal.WithLabelValues("network").Inc()
			if attempt == maxRetries {
				break retryLoop
			}
			if werr := sleep(ctx, backoffDuration(attempt)); werr != nil {
				return nil, fmt.Errorf("%w: %v", ErrRequestCancelled, werr)
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return p, nil

		case resp.StatusCode == 401:
			telemetry.RequestRetriesTotal.WithLabelValues("401").Inc()
			force = true
			lastErr = fmt.Errorf("%w: 401 from %s", ErrAuthFailed, endpoint)
			if attempt == maxRetries {
				break retryLoop
			}
			continue

		case resp.StatusCode == 429:
			telemetry.RequestRetriesTotal.WithLabelValues("429").Inc()
			lastErr = fmt.Errorf("%w: 429 from %s", ErrRateLimitExhausted, endpoint)
			if attempt == maxRetries {
				break retryLoop
			}
			if werr := sleep(ctx, retryAfter(resp)); werr != nil {
				return nil, fmt.Errorf("%w: %v", ErrRequestCancelled, werr)
			}
			continue

		case resp.StatusCode >= 500:
			telemetry.RequestRetriesTotal.WithLabelValues("5xx").Inc()
			sawServerError = true
			lastErr = &RequestError{
				Endpoint: endpoint, PageSize: pageSize, Cursor: cursor,
				RequestID: requestID(resp), Err: fmt.Errorf("%w: %d from %s", ErrPaginationFailed, resp.StatusCode, endpoint),
			}
			if attempt == maxRetries {
				break retryLoop
			}
			if werr := sleep(ctx, backoffDuration(attempt)); werr != nil {
				return nil, fmt.Errorf("%w: %v", ErrRequestCancelled, werr)
			}
			continue

		default:
			return nil, &RequestError{
				Endpoint: endpoint, PageSize: pageSize, Cursor: cursor,
				RequestID: requestID(resp), Err: fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint),
			}
		}
	}

	wrapped := fmt.Errorf("%w: %v", ErrRequestExhausted, lastErr)
	if sawServerError {
		return nil, degradableErr{wrapped}
	}
	return nil, wrapped
}

// retryAfter reads the Retry-After header (seconds) and adds the spec's one
// second grace period; it falls back to a flat 60s when the header is
// absent or malformed.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 60 * time.Second
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 60 * time.Second
	}
	return time.Duration(secs+1) * time.Second
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
