// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelfeed/reelfeed/internal/logging"
	"github.com/reelfeed/reelfeed/internal/metrics"
	"github.com/reelfeed/reelfeed/internal/models"
	"github.com/reelfeed/reelfeed/internal/store"
)

// ReaderConfig controls pagination and the rebuild wait budget.
type ReaderConfig struct {
	DefaultPageSize int
	MaxPageSize     int

	// RebuildTimeout caps how long a page read blocks behind a rebuild
	// before falling back to whatever snapshot exists.
	RebuildTimeout time.Duration
}

// Reader serves paginated feed pages from the materialized cache, triggering
// a rebuild first when the cache is cold or stale.
type Reader struct {
	refresher *Refresher
	feed      store.FeedStore
	cfg       ReaderConfig
}

// NewReader creates a reader backed by the given refresher and feed store.
func NewReader(refresher *Refresher, feed store.FeedStore, cfg ReaderConfig) *Reader {
	return &Reader{refresher: refresher, feed: feed, cfg: cfg}
}

// Page returns one page of the viewer's ranked feed.
//
// An empty cursor starts from the top. A cursor pointing at a row that has
// since been deleted is not an error; the page resumes at the next surviving
// row, so clients never see a pagination failure because someone deleted a
// video mid-scroll.
//
// When a needed rebuild exceeds the timeout, the page is served from the
// existing stale snapshot and flagged Stale rather than failing the request.
// A cold cache with a failed rebuild has nothing to serve and returns the
// rebuild error.
func (r *Reader) Page(ctx context.Context, viewerID, cursorToken string, limit int) (*models.FeedPage, error) {
	start := time.Now()
	defer func() {
		metrics.FeedPageDuration.Observe(time.Since(start).Seconds())
	}()

	if limit <= 0 {
		limit = r.cfg.DefaultPageSize
	}
	if limit > r.cfg.MaxPageSize {
		limit = r.cfg.MaxPageSize
	}

	var after *store.RowPosition
	if cursorToken != "" {
		pos, err := DecodeCursor(cursorToken)
		if err != nil {
			return nil, err
		}
		after = &pos
	}

	stale := false
	rctx, cancel := context.WithTimeout(ctx, r.cfg.RebuildTimeout)
	_, err := r.refresher.EnsureFresh(rctx, viewerID)
	cancel()
	if err != nil {
		if _, lastErr := r.feed.LastRebuild(ctx, viewerID); lastErr != nil {
			// Cold cache and the rebuild failed: nothing to serve.
			return nil, fmt.Errorf("build feed for %s: %w", viewerID, err)
		}
		stale = true
		metrics.FeedStalePagesTotal.Inc()
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("viewer_id", viewerID).
			Msg("serving stale feed page after rebuild failure")
	}

	// Fetch one extra row to learn whether more pages exist.
	rows, err := r.feed.Page(ctx, viewerID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("read feed page: %w", err)
	}

	page := &models.FeedPage{Stale: stale}
	if len(rows) > limit {
		rows = rows[:limit]
		page.HasMore = true
	}
	page.Entries = rows
	if page.HasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		page.NextCursor = EncodeCursor(store.RowPosition{Score: last.Score, ItemID: last.ItemID})
	}
	return page, nil
}

// Entry returns a single cached row, or ErrNotFound when the viewer's cache
// holds no row for the item.
func (r *Reader) Entry(ctx context.Context, viewerID, itemID string) (*models.FeedEntry, error) {
	row, err := r.feed.GetRow(ctx, viewerID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read feed row: %w", err)
	}
	return row, nil
}
