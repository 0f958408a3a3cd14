// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reelfeed/reelfeed/internal/logging"
	"github.com/reelfeed/reelfeed/internal/metrics"
	"github.com/reelfeed/reelfeed/internal/models"
	"github.com/reelfeed/reelfeed/internal/store"
)

// RefresherConfig controls staleness detection and rebuild behavior.
type RefresherConfig struct {
	// StalenessWindow is the maximum cache age before a read triggers a
	// rebuild.
	StalenessWindow time.Duration

	// PublicRecencyWindow bounds how far back public items are considered
	// during a rebuild.
	PublicRecencyWindow time.Duration

	// RetryAttempts and RetryDelay govern retries of backing store reads.
	RetryAttempts int
	RetryDelay    time.Duration
}

// Refresher keeps per-viewer feed caches fresh. A rebuild reads the full
// current truth from the item and grant stores and swaps it in atomically;
// on any failure the previous snapshot stays untouched. Nothing partial is
// ever committed.
//
// Concurrent rebuild requests for the same viewer coalesce into one flight;
// followers wait for the leader's result.
type Refresher struct {
	items  store.ItemStore
	grants store.GrantStore
	feed   store.FeedStore
	cfg    RefresherConfig

	// now is injectable for tests.
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	done chan struct{}
	err  error
}

// NewRefresher creates a refresher over the given stores.
func NewRefresher(items store.ItemStore, grants store.GrantStore, feed store.FeedStore, cfg RefresherConfig) *Refresher {
	return &Refresher{
		items:    items,
		grants:   grants,
		feed:     feed,
		cfg:      cfg,
		now:      time.Now,
		inflight: make(map[string]*flight),
	}
}

// SetNowFunc overrides the clock. Test use only.
func (r *Refresher) SetNowFunc(now func() time.Time) {
	r.now = now
}

// EnsureFresh rebuilds the viewer's cache if it is missing or older than the
// staleness window. Returns whether a rebuild ran. A fresh cache is a no-op,
// which is what makes page reads cheap in the common case.
func (r *Refresher) EnsureFresh(ctx context.Context, viewerID string) (bool, error) {
	rebuilt, err := r.feed.LastRebuild(ctx, viewerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return true, r.rebuildShared(ctx, viewerID, "cold")
	case err != nil:
		return false, fmt.Errorf("check cache age: %w", err)
	}

	if r.now().Sub(rebuilt) <= r.cfg.StalenessWindow {
		return false, nil
	}
	return true, r.rebuildShared(ctx, viewerID, "stale")
}

// ForceRebuild rebuilds unconditionally, coalescing with any rebuild already
// in flight for the viewer.
func (r *Refresher) ForceRebuild(ctx context.Context, viewerID string) error {
	return r.rebuildShared(ctx, viewerID, "explicit")
}

// rebuildShared coalesces concurrent rebuilds of the same viewer.
func (r *Refresher) rebuildShared(ctx context.Context, viewerID, trigger string) error {
	r.mu.Lock()
	if f, ok := r.inflight[viewerID]; ok {
		r.mu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	r.inflight[viewerID] = f
	r.mu.Unlock()

	f.err = r.rebuild(ctx, viewerID, trigger)
	close(f.done)

	r.mu.Lock()
	delete(r.inflight, viewerID)
	r.mu.Unlock()

	return f.err
}

// rebuild computes the viewer's full feed from current truth and swaps it in.
func (r *Refresher) rebuild(ctx context.Context, viewerID, trigger string) error {
	start := time.Now()

	entries, err := r.collect(ctx, viewerID)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			outcome = "timeout"
		}
		metrics.FeedRebuildsTotal.WithLabelValues(trigger, outcome).Inc()
		return fmt.Errorf("collect feed for %s: %w", viewerID, err)
	}

	if err := r.feed.ReplaceRows(ctx, viewerID, entries, r.now()); err != nil {
		metrics.FeedRebuildsTotal.WithLabelValues(trigger, "error").Inc()
		return fmt.Errorf("replace rows for %s: %w", viewerID, err)
	}

	metrics.FeedRebuildsTotal.WithLabelValues(trigger, "ok").Inc()
	metrics.FeedRebuildDuration.Observe(time.Since(start).Seconds())

	logging.Ctx(ctx).Debug().
		Str("viewer_id", viewerID).
		Str("trigger", trigger).
		Int("rows", len(entries)).
		Dur("took", time.Since(start)).
		Msg("feed cache rebuilt")
	return nil
}

// collect gathers every item visible to the viewer with its best class.
func (r *Refresher) collect(ctx context.Context, viewerID string) ([]models.FeedEntry, error) {
	now := r.now()

	// best class wins when an item is reachable several ways
	type candidate struct {
		item  *models.Item
		class models.RelationshipClass
	}
	candidates := make(map[string]candidate)
	consider := func(item *models.Item, class models.RelationshipClass) {
		if item == nil || item.Deleted || class == models.ClassAbsent {
			return
		}
		if prev, ok := candidates[item.ID]; ok && prev.class.Weight() >= class.Weight() {
			return
		}
		candidates[item.ID] = candidate{item: item, class: class}
	}

	var owned []*models.Item
	err := r.withRetry(ctx, func() error {
		var err error
		owned, err = r.items.ListItemsByOwner(ctx, viewerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list owned items: %w", err)
	}
	for _, item := range owned {
		consider(item, models.ClassOwn)
	}

	var grants []*models.SharingGrant
	err = r.withRetry(ctx, func() error {
		var err error
		grants, err = r.grants.ListGrantsForGrantee(ctx, viewerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	for _, grant := range grants {
		if !grant.Active() {
			continue
		}

		var item *models.Item
		err = r.withRetry(ctx, func() error {
			var err error
			item, err = r.items.GetItem(ctx, grant.ItemID)
			if errors.Is(err, store.ErrNotFound) {
				// The grant outlived its item; skip, don't fail the build.
				item = nil
				return nil
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("resolve granted item %s: %w", grant.ItemID, err)
		}
		consider(item, grant.Kind.Class())
	}

	var public []*models.Item
	err = r.withRetry(ctx, func() error {
		var err error
		public, err = r.items.ListPublicItemsSince(ctx, now.Add(-r.cfg.PublicRecencyWindow))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list public items: %w", err)
	}
	for _, item := range public {
		consider(item, models.ClassPublic)
	}

	entries := make([]models.FeedEntry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, NewEntry(viewerID, c.item, c.class, now))
	}
	return entries, nil
}

// withRetry runs op, retrying transient failures with a fixed delay.
func (r *Refresher) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= r.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
