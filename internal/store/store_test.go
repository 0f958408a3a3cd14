// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/reelfeed/reelfeed/internal/models"
)

// combinedStore lets the same test suite run against BadgerStore and
// MemoryStore.
type combinedStore interface {
	ItemStore
	GrantStore
	FeedStore
}

func openStores(t *testing.T) map[string]combinedStore {
	t.Helper()

	badgerStore, err := OpenBadger("", true)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { badgerStore.Close() })

	return map[string]combinedStore{
		"badger": badgerStore,
		"memory": NewMemoryStore(),
	}
}

func testEntry(viewerID, itemID string, score int64) *models.FeedEntry {
	return &models.FeedEntry{
		ViewerID:   viewerID,
		ItemID:     itemID,
		Class:      models.ClassPublic,
		Score:      score,
		InsertedAt: time.Now(),
		CreatedAt:  time.Now(),
	}
}

func TestItemStoreRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			item := &models.Item{
				ID:        "item-1",
				OwnerID:   "owner-1",
				Public:    true,
				CreatedAt: time.Now().Add(-time.Hour).Truncate(time.Second),
			}

			if err := s.PutItem(ctx, item); err != nil {
				t.Fatalf("PutItem: %v", err)
			}

			got, err := s.GetItem(ctx, "item-1")
			if err != nil {
				t.Fatalf("GetItem: %v", err)
			}
			if got.OwnerID != "owner-1" || !got.Public {
				t.Errorf("GetItem = %+v, want owner-1/public", got)
			}

			if _, err := s.GetItem(ctx, "nope"); err != ErrNotFound {
				t.Errorf("GetItem(nope) err = %v, want ErrNotFound", err)
			}

			owned, err := s.ListItemsByOwner(ctx, "owner-1")
			if err != nil {
				t.Fatalf("ListItemsByOwner: %v", err)
			}
			if len(owned) != 1 {
				t.Errorf("owned items = %d, want 1", len(owned))
			}
		})
	}
}

func TestItemStoreDeleteHidesItem(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			item := &models.Item{
				ID:        "item-1",
				OwnerID:   "owner-1",
				Public:    true,
				CreatedAt: time.Now().Add(-time.Hour).Truncate(time.Second),
			}
			if err := s.PutItem(ctx, item); err != nil {
				t.Fatalf("PutItem: %v", err)
			}
			if err := s.DeleteItem(ctx, "item-1"); err != nil {
				t.Fatalf("DeleteItem: %v", err)
			}

			// Record survives for late event resolution, flagged deleted.
			got, err := s.GetItem(ctx, "item-1")
			if err != nil {
				t.Fatalf("GetItem after delete: %v", err)
			}
			if !got.Deleted {
				t.Error("item should be flagged deleted")
			}

			owned, _ := s.ListItemsByOwner(ctx, "owner-1")
			if len(owned) != 0 {
				t.Errorf("owned items after delete = %d, want 0", len(owned))
			}
			public, _ := s.ListPublicItemsSince(ctx, time.Now().Add(-24*time.Hour))
			if len(public) != 0 {
				t.Errorf("public items after delete = %d, want 0", len(public))
			}
		})
	}
}

func TestItemStorePublicRecencyWindow(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().Truncate(time.Second)

			for _, item := range []*models.Item{
				{ID: "old", OwnerID: "o", Public: true, CreatedAt: now.Add(-48 * time.Hour)},
				{ID: "recent", OwnerID: "o", Public: true, CreatedAt: now.Add(-time.Hour)},
				{ID: "newest", OwnerID: "o", Public: true, CreatedAt: now},
				{ID: "private", OwnerID: "o", Public: false, CreatedAt: now},
			} {
				if err := s.PutItem(ctx, item); err != nil {
					t.Fatalf("PutItem(%s): %v", item.ID, err)
				}
			}

			public, err := s.ListPublicItemsSince(ctx, now.Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("ListPublicItemsSince: %v", err)
			}
			if len(public) != 2 {
				t.Fatalf("public items = %d, want 2", len(public))
			}
			if public[0].ID != "newest" || public[1].ID != "recent" {
				t.Errorf("order = [%s %s], want [newest recent]", public[0].ID, public[1].ID)
			}
		})
	}
}

func TestItemStoreCounterClamp(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			item := &models.Item{ID: "item-1", OwnerID: "o", CreatedAt: time.Now()}
			if err := s.PutItem(ctx, item); err != nil {
				t.Fatalf("PutItem: %v", err)
			}

			got, err := s.UpdateCounters(ctx, "item-1", 2, 1)
			if err != nil {
				t.Fatalf("UpdateCounters: %v", err)
			}
			if got.LikeCount != 2 || got.CommentCount != 1 {
				t.Errorf("counters = %d/%d, want 2/1", got.LikeCount, got.CommentCount)
			}

			// Duplicate removals clamp at zero rather than going negative.
			got, err = s.UpdateCounters(ctx, "item-1", -5, -5)
			if err != nil {
				t.Fatalf("UpdateCounters: %v", err)
			}
			if got.LikeCount != 0 || got.CommentCount != 0 {
				t.Errorf("counters = %d/%d, want 0/0", got.LikeCount, got.CommentCount)
			}
		})
	}
}

func TestGrantStoreRevocation(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			grant := &models.SharingGrant{
				OwnerID:   "owner-1",
				ItemID:    "item-1",
				GranteeID: "viewer-1",
				Kind:      models.GrantDirect,
				Status:    models.GrantActive,
				CreatedAt: time.Now(),
			}
			if err := s.PutGrant(ctx, grant); err != nil {
				t.Fatalf("PutGrant: %v", err)
			}

			if err := s.RevokeGrant(ctx, "viewer-1", "item-1", models.GrantDirect); err != nil {
				t.Fatalf("RevokeGrant: %v", err)
			}
			got, err := s.GetGrant(ctx, "viewer-1", "item-1", models.GrantDirect)
			if err != nil {
				t.Fatalf("GetGrant: %v", err)
			}
			if got.Active() {
				t.Error("grant should be revoked")
			}

			// Revoking an unknown grant is a no-op, not an error.
			if err := s.RevokeGrant(ctx, "viewer-1", "missing", models.GrantDirect); err != nil {
				t.Errorf("RevokeGrant(missing) = %v, want nil", err)
			}
		})
	}
}

func TestGrantStoreRevokeTrustedGrants(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			grants := []*models.SharingGrant{
				{OwnerID: "owner-1", ItemID: "i1", GranteeID: "v1", Kind: models.GrantTrusted, Status: models.GrantActive},
				{OwnerID: "owner-1", ItemID: "i2", GranteeID: "v1", Kind: models.GrantTrusted, Status: models.GrantActive},
				{OwnerID: "owner-1", ItemID: "i3", GranteeID: "v1", Kind: models.GrantDirect, Status: models.GrantActive},
				{OwnerID: "owner-2", ItemID: "i4", GranteeID: "v1", Kind: models.GrantTrusted, Status: models.GrantActive},
			}
			for _, g := range grants {
				if err := s.PutGrant(ctx, g); err != nil {
					t.Fatalf("PutGrant: %v", err)
				}
			}

			revoked, err := s.RevokeTrustedGrants(ctx, "owner-1", "v1")
			if err != nil {
				t.Fatalf("RevokeTrustedGrants: %v", err)
			}
			if len(revoked) != 2 {
				t.Fatalf("revoked = %d, want 2 (trusted grants from owner-1 only)", len(revoked))
			}

			// Direct share from the same owner survives.
			direct, err := s.GetGrant(ctx, "v1", "i3", models.GrantDirect)
			if err != nil {
				t.Fatalf("GetGrant: %v", err)
			}
			if !direct.Active() {
				t.Error("direct grant should remain active")
			}

			// Trusted grant from a different owner survives.
			other, err := s.GetGrant(ctx, "v1", "i4", models.GrantTrusted)
			if err != nil {
				t.Fatalf("GetGrant: %v", err)
			}
			if !other.Active() {
				t.Error("other owner's trusted grant should remain active")
			}
		})
	}
}

func TestFeedStorePageOrdering(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Insert out of order; same score for b and c to check the
			// item ID tiebreak.
			for _, e := range []*models.FeedEntry{
				testEntry("viewer-1", "c", 50),
				testEntry("viewer-1", "a", 100),
				testEntry("viewer-1", "b", 50),
				testEntry("viewer-1", "d", 10),
			} {
				if err := s.UpsertRow(ctx, e); err != nil {
					t.Fatalf("UpsertRow: %v", err)
				}
			}

			rows, err := s.Page(ctx, "viewer-1", nil, 10)
			if err != nil {
				t.Fatalf("Page: %v", err)
			}
			want := []string{"a", "b", "c", "d"}
			if len(rows) != len(want) {
				t.Fatalf("rows = %d, want %d", len(rows), len(want))
			}
			for i, id := range want {
				if rows[i].ItemID != id {
					t.Errorf("rows[%d] = %s, want %s", i, rows[i].ItemID, id)
				}
			}
		})
	}
}

func TestFeedStorePageCursor(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, e := range []*models.FeedEntry{
				testEntry("viewer-1", "a", 100),
				testEntry("viewer-1", "b", 50),
				testEntry("viewer-1", "c", 50),
				testEntry("viewer-1", "d", 10),
			} {
				if err := s.UpsertRow(ctx, e); err != nil {
					t.Fatalf("UpsertRow: %v", err)
				}
			}

			first, err := s.Page(ctx, "viewer-1", nil, 2)
			if err != nil {
				t.Fatalf("Page: %v", err)
			}
			if len(first) != 2 || first[1].ItemID != "b" {
				t.Fatalf("first page = %+v, want [a b]", first)
			}

			rest, err := s.Page(ctx, "viewer-1", &RowPosition{Score: 50, ItemID: "b"}, 10)
			if err != nil {
				t.Fatalf("Page: %v", err)
			}
			if len(rest) != 2 || rest[0].ItemID != "c" || rest[1].ItemID != "d" {
				t.Errorf("second page = %+v, want [c d]", rest)
			}

			// A cursor pointing at a since-deleted row still lands on the
			// correct successor.
			if err := s.DeleteRow(ctx, "viewer-1", "c"); err != nil {
				t.Fatalf("DeleteRow: %v", err)
			}
			after, err := s.Page(ctx, "viewer-1", &RowPosition{Score: 50, ItemID: "b"}, 10)
			if err != nil {
				t.Fatalf("Page: %v", err)
			}
			if len(after) != 1 || after[0].ItemID != "d" {
				t.Errorf("page after delete = %+v, want [d]", after)
			}
		})
	}
}

func TestFeedStoreUpsertMovesRow(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.UpsertRow(ctx, testEntry("viewer-1", "a", 10)); err != nil {
				t.Fatalf("UpsertRow: %v", err)
			}
			if err := s.UpsertRow(ctx, testEntry("viewer-1", "b", 50)); err != nil {
				t.Fatalf("UpsertRow: %v", err)
			}

			// Re-upsert a at a higher score; the old position must vanish.
			if err := s.UpsertRow(ctx, testEntry("viewer-1", "a", 100)); err != nil {
				t.Fatalf("UpsertRow: %v", err)
			}

			rows, err := s.Page(ctx, "viewer-1", nil, 10)
			if err != nil {
				t.Fatalf("Page: %v", err)
			}
			if len(rows) != 2 {
				t.Fatalf("rows = %d, want 2 (no duplicate for moved row)", len(rows))
			}
			if rows[0].ItemID != "a" || rows[0].Score != 100 {
				t.Errorf("rows[0] = %s score %d, want a at 100", rows[0].ItemID, rows[0].Score)
			}
		})
	}
}

func TestFeedStoreTombstoneSuppressesUpsert(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.DeleteRow(ctx, "viewer-1", "a"); err != nil {
				t.Fatalf("DeleteRow: %v", err)
			}

			// An upsert arriving after the delete is suppressed.
			if err := s.UpsertRow(ctx, testEntry("viewer-1", "a", 100)); err != nil {
				t.Fatalf("UpsertRow: %v", err)
			}
			if _, err := s.GetRow(ctx, "viewer-1", "a"); err != ErrNotFound {
				t.Errorf("GetRow err = %v, want ErrNotFound (tombstone wins)", err)
			}
		})
	}
}

func TestFeedStorePutRowClearsTombstone(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.DeleteRow(ctx, "viewer-1", "a"); err != nil {
				t.Fatalf("DeleteRow: %v", err)
			}

			// An authoritative write lands despite the tombstone.
			if err := s.PutRow(ctx, testEntry("viewer-1", "a", 100)); err != nil {
				t.Fatalf("PutRow: %v", err)
			}
			row, err := s.GetRow(ctx, "viewer-1", "a")
			if err != nil {
				t.Fatalf("GetRow: %v", err)
			}
			if row.Score != 100 {
				t.Errorf("score = %d, want 100", row.Score)
			}

			// The tombstone is gone, so a plain upsert works again.
			if err := s.UpsertRow(ctx, testEntry("viewer-1", "a", 200)); err != nil {
				t.Fatalf("UpsertRow: %v", err)
			}
			row, err = s.GetRow(ctx, "viewer-1", "a")
			if err != nil {
				t.Fatalf("GetRow: %v", err)
			}
			if row.Score != 200 {
				t.Errorf("score after upsert = %d, want 200", row.Score)
			}
		})
	}
}

func TestFeedStoreConcurrentSamePairWrites(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Badger detects write conflicts between overlapping
			// transactions; callers retry, the way the event router
			// redelivers for the reconciler.
			retry := func(op func() error) error {
				var err error
				for i := 0; i < 20; i++ {
					if err = op(); !errors.Is(err, badger.ErrConflict) {
						return err
					}
				}
				return err
			}

			const iterations = 50
			errs := make(chan error, 3)
			var wg sync.WaitGroup
			wg.Add(3)
			go func() {
				defer wg.Done()
				for i := 0; i < iterations; i++ {
					if err := retry(func() error {
						return s.UpsertRow(ctx, testEntry("viewer-1", "a", int64(10+i)))
					}); err != nil {
						errs <- err
						return
					}
				}
			}()
			go func() {
				defer wg.Done()
				for i := 0; i < iterations; i++ {
					if err := retry(func() error {
						return s.DeleteRow(ctx, "viewer-1", "a")
					}); err != nil {
						errs <- err
						return
					}
				}
			}()
			go func() {
				defer wg.Done()
				for i := 0; i < iterations; i++ {
					entries := []models.FeedEntry{*testEntry("viewer-1", "a", int64(500+i))}
					if err := retry(func() error {
						return s.ReplaceRows(ctx, "viewer-1", entries, time.Now())
					}); err != nil {
						errs <- err
						return
					}
				}
			}()
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent write: %v", err)
			}

			// Whatever interleaving happened, the pair holds at most one row
			// and the lookup path agrees with the rank scan.
			rows, err := s.Page(ctx, "viewer-1", nil, 100)
			if err != nil {
				t.Fatalf("Page: %v", err)
			}
			count := 0
			var paged models.FeedEntry
			for _, row := range rows {
				if row.ItemID == "a" {
					count++
					paged = row
				}
			}
			if count > 1 {
				t.Fatalf("pair holds %d rows, want at most 1", count)
			}
			row, err := s.GetRow(ctx, "viewer-1", "a")
			switch {
			case err == nil:
				if count != 1 {
					t.Errorf("GetRow found a row the rank scan did not")
				} else if row.Score != paged.Score {
					t.Errorf("GetRow score = %d, rank scan score = %d", row.Score, paged.Score)
				}
			case errors.Is(err, ErrNotFound):
				if count != 0 {
					t.Errorf("rank scan found a row GetRow did not")
				}
			default:
				t.Fatalf("GetRow: %v", err)
			}

			// Upserts racing behind a delete cannot resurrect the row.
			if err := retry(func() error { return s.DeleteRow(ctx, "viewer-1", "a") }); err != nil {
				t.Fatalf("DeleteRow: %v", err)
			}
			wg.Add(2)
			for g := 0; g < 2; g++ {
				score := int64(200 + g)
				go func() {
					defer wg.Done()
					_ = retry(func() error {
						return s.UpsertRow(ctx, testEntry("viewer-1", "a", score))
					})
				}()
			}
			wg.Wait()
			if _, err := s.GetRow(ctx, "viewer-1", "a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRow after delete = %v, want ErrNotFound (tombstone wins)", err)
			}
		})
	}
}

func TestFeedStoreReplaceRowsClearsTombstones(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.UpsertRow(ctx, testEntry("viewer-1", "stale", 10)); err != nil {
				t.Fatalf("UpsertRow: %v", err)
			}
			if err := s.DeleteRow(ctx, "viewer-1", "a"); err != nil {
				t.Fatalf("DeleteRow: %v", err)
			}

			rebuiltAt := time.Now().Truncate(time.Millisecond)
			entries := []models.FeedEntry{*testEntry("viewer-1", "a", 100)}
			if err := s.ReplaceRows(ctx, "viewer-1", entries, rebuiltAt); err != nil {
				t.Fatalf("ReplaceRows: %v", err)
			}

			// The rebuild snapshot supersedes the tombstone and stale rows.
			if _, err := s.GetRow(ctx, "viewer-1", "a"); err != nil {
				t.Errorf("GetRow(a) = %v, want row from snapshot", err)
			}
			if _, err := s.GetRow(ctx, "viewer-1", "stale"); err != ErrNotFound {
				t.Errorf("GetRow(stale) err = %v, want ErrNotFound", err)
			}

			got, err := s.LastRebuild(ctx, "viewer-1")
			if err != nil {
				t.Fatalf("LastRebuild: %v", err)
			}
			if !got.Equal(rebuiltAt) {
				t.Errorf("LastRebuild = %v, want %v", got, rebuiltAt)
			}

			viewers, err := s.ListViewers(ctx)
			if err != nil {
				t.Fatalf("ListViewers: %v", err)
			}
			if len(viewers) != 1 || viewers[0] != "viewer-1" {
				t.Errorf("ListViewers = %v, want [viewer-1]", viewers)
			}
		})
	}
}

func TestFeedStoreItemFanout(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, viewerID := range []string{"v1", "v2", "v3"} {
				if err := s.UpsertRow(ctx, testEntry(viewerID, "shared", 50)); err != nil {
					t.Fatalf("UpsertRow: %v", err)
				}
			}
			if err := s.UpsertRow(ctx, testEntry("v1", "other", 60)); err != nil {
				t.Fatalf("UpsertRow: %v", err)
			}

			viewers, err := s.UpdateRowCounters(ctx, "shared", 1, 0)
			if err != nil {
				t.Fatalf("UpdateRowCounters: %v", err)
			}
			if len(viewers) != 3 {
				t.Fatalf("updated viewers = %d, want 3", len(viewers))
			}

			row, err := s.GetRow(ctx, "v2", "shared")
			if err != nil {
				t.Fatalf("GetRow: %v", err)
			}
			if row.LikeCount != 1 {
				t.Errorf("like count = %d, want 1", row.LikeCount)
			}
			if row.Score != 50 {
				t.Errorf("score changed to %d on counter update, want 50", row.Score)
			}

			deleted, err := s.DeleteRowsForItem(ctx, "shared")
			if err != nil {
				t.Fatalf("DeleteRowsForItem: %v", err)
			}
			if len(deleted) != 3 {
				t.Fatalf("deleted viewers = %d, want 3", len(deleted))
			}
			for _, viewerID := range deleted {
				if _, err := s.GetRow(ctx, viewerID, "shared"); err != ErrNotFound {
					t.Errorf("GetRow(%s, shared) err = %v, want ErrNotFound", viewerID, err)
				}
			}

			// Unrelated row is untouched.
			if _, err := s.GetRow(ctx, "v1", "other"); err != nil {
				t.Errorf("GetRow(v1, other) = %v, want row", err)
			}
		})
	}
}
