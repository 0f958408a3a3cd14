// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/reelfeed/reelfeed/internal/models"
)

// Key prefixes for BadgerDB storage
const (
	itemKeyPrefix    = "item:"
	pubTimeKeyPrefix = "pubtime:"
	ownerKeyPrefix   = "owner:"
	grantKeyPrefix   = "grant:"

	feedRowKeyPrefix  = "feed:"
	feedRefKeyPrefix  = "feedref:"
	feedItemKeyPrefix = "feeditem:"
	feedTombKeyPrefix = "feedtomb:"
	feedMetaKeyPrefix = "feedmeta:"
)

// tombstoneTTL is how long a row deletion suppresses upserts for the same
// (viewer, item) pair. It must comfortably exceed the time any in-flight
// reconciliation of an older event can still be running.
const tombstoneTTL = 5 * time.Minute

// BadgerStore implements ItemStore, GrantStore and FeedStore on a single
// BadgerDB instance.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a BadgerDB at the given path. With inMemory
// set, nothing touches disk; this mode is for tests and development.
func OpenBadger(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithInMemory(inMemory).
		WithLogger(nil)
	if inMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an existing BadgerDB handle.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tasks (GC, backup).
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

// Key builders. IDs never contain ':': item IDs are server-generated UUIDs
// and viewer IDs are restricted to [A-Za-z0-9_-] at the auth boundary.

func itemKey(id string) []byte {
	return []byte(itemKeyPrefix + id)
}

func pubTimeKey(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", pubTimeKeyPrefix, createdAt.Unix(), id))
}

func ownerKey(ownerID, itemID string) []byte {
	return []byte(ownerKeyPrefix + ownerID + ":" + itemID)
}

func grantKey(granteeID, itemID string, kind models.GrantKind) []byte {
	return []byte(grantKeyPrefix + granteeID + ":" + itemID + ":" + string(kind))
}

// feedRowKey encodes the rank order into the key itself: the score is
// inverted and hex-encoded fixed-width so that Badger's ascending key order
// yields score descending, item ID ascending. Scores are non-negative.
func feedRowKey(viewerID string, score int64, itemID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x:%s", feedRowKeyPrefix, viewerID, math.MaxInt64-score, itemID))
}

func feedRefKey(viewerID, itemID string) []byte {
	return []byte(feedRefKeyPrefix + viewerID + ":" + itemID)
}

func feedItemKey(itemID, viewerID string) []byte {
	return []byte(feedItemKeyPrefix + itemID + ":" + viewerID)
}

func feedTombKey(viewerID, itemID string) []byte {
	return []byte(feedTombKeyPrefix + viewerID + ":" + itemID)
}

func feedMetaKey(viewerID string) []byte {
	return []byte(feedMetaKeyPrefix + viewerID)
}

// ---- ItemStore ----

// PutItem creates or replaces an item and maintains the owner and
// public-recency indexes.
func (s *BadgerStore) PutItem(_ context.Context, item *models.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		// Drop a stale recency index entry if the item already existed.
		if prev, err := getItemTxn(txn, item.ID); err == nil {
			if err := txn.Delete(pubTimeKey(prev.CreatedAt, prev.ID)); err != nil {
				return fmt.Errorf("delete stale pubtime index: %w", err)
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := txn.Set(itemKey(item.ID), data); err != nil {
			return fmt.Errorf("set item: %w", err)
		}
		if err := txn.Set(ownerKey(item.OwnerID, item.ID), nil); err != nil {
			return fmt.Errorf("set owner index: %w", err)
		}
		if item.Public && !item.Deleted {
			if err := txn.Set(pubTimeKey(item.CreatedAt, item.ID), []byte(item.ID)); err != nil {
				return fmt.Errorf("set pubtime index: %w", err)
			}
		}
		return nil
	})
}

// GetItem returns the item or ErrNotFound.
func (s *BadgerStore) GetItem(_ context.Context, id string) (*models.Item, error) {
	var item *models.Item
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		item, err = getItemTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem marks the item deleted and removes it from the recency index.
// The item record itself is kept so late-arriving events can still resolve it.
func (s *BadgerStore) DeleteItem(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := getItemTxn(txn, id)
		if err != nil {
			return err
		}
		item.Deleted = true

		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item: %w", err)
		}
		if err := txn.Set(itemKey(id), data); err != nil {
			return fmt.Errorf("set item: %w", err)
		}
		if err := txn.Delete(pubTimeKey(item.CreatedAt, item.ID)); err != nil {
			return fmt.Errorf("delete pubtime index: %w", err)
		}
		return nil
	})
}

// ListItemsByOwner returns all non-deleted items owned by ownerID.
func (s *BadgerStore) ListItemsByOwner(_ context.Context, ownerID string) ([]*models.Item, error) {
	var items []*models.Item
	prefix := []byte(ownerKeyPrefix + ownerID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			itemID := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			item, err := getItemTxn(txn, itemID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !item.Deleted {
				items = append(items, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListPublicItemsSince returns all non-deleted public items created at or
// after the given time, newest first.
func (s *BadgerStore) ListPublicItemsSince(_ context.Context, since time.Time) ([]*models.Item, error) {
	var items []*models.Item
	prefix := []byte(pubTimeKeyPrefix)
	start := []byte(fmt.Sprintf("%s%020d:", pubTimeKeyPrefix, since.Unix()))

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var itemID string
			if err := it.Item().Value(func(val []byte) error {
				itemID = string(val)
				return nil
			}); err != nil {
				return err
			}

			item, err := getItemTxn(txn, itemID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if item.Public && !item.Deleted {
				items = append(items, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Index order is oldest first; callers want newest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// UpdateCounters atomically applies counter deltas and returns the updated
// item. Counters are clamped at zero so duplicate removals cannot go negative.
func (s *BadgerStore) UpdateCounters(_ context.Context, itemID string, likeDelta, commentDelta int64) (*models.Item, error) {
	var updated *models.Item
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := getItemTxn(txn, itemID)
		if err != nil {
			return err
		}

		item.LikeCount = clampCounter(item.LikeCount + likeDelta)
		item.CommentCount = clampCounter(item.CommentCount + commentDelta)

		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item: %w", err)
		}
		if err := txn.Set(itemKey(itemID), data); err != nil {
			return fmt.Errorf("set item: %w", err)
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func getItemTxn(txn *badger.Txn, id string) (*models.Item, error) {
	entry, err := txn.Get(itemKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	var item models.Item
	if err := entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &item)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &item, nil
}

func clampCounter(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// ---- GrantStore ----

// PutGrant creates or replaces a grant keyed by (grantee, item, kind).
func (s *BadgerStore) PutGrant(_ context.Context, grant *models.SharingGrant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(grantKey(grant.GranteeID, grant.ItemID, grant.Kind), data)
	})
}

// GetGrant returns the grant or ErrNotFound.
func (s *BadgerStore) GetGrant(_ context.Context, granteeID, itemID string, kind models.GrantKind) (*models.SharingGrant, error) {
	var grant *models.SharingGrant
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		grant, err = getGrantTxn(txn, granteeID, itemID, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// ListGrantsForItem returns the grants the grantee holds on one item.
func (s *BadgerStore) ListGrantsForItem(_ context.Context, granteeID, itemID string) ([]*models.SharingGrant, error) {
	var grants []*models.SharingGrant
	prefix := []byte(grantKeyPrefix + granteeID + ":" + itemID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var grant models.SharingGrant
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &grant)
			}); err != nil {
				return fmt.Errorf("unmarshal grant: %w", err)
			}
			g := grant
			grants = append(grants, &g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// ListGrantsForGrantee returns all grants held by the grantee.
func (s *BadgerStore) ListGrantsForGrantee(_ context.Context, granteeID string) ([]*models.SharingGrant, error) {
	var grants []*models.SharingGrant
	prefix := []byte(grantKeyPrefix + granteeID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var grant models.SharingGrant
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &grant)
			}); err != nil {
				return fmt.Errorf("unmarshal grant: %w", err)
			}
			g := grant
			grants = append(grants, &g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// RevokeGrant marks a grant revoked. Unknown grants are ignored so revocation
// events are idempotent.
func (s *BadgerStore) RevokeGrant(_ context.Context, granteeID, itemID string, kind models.GrantKind) error {
	return s.db.Update(func(txn *badger.Txn) error {
		grant, err := getGrantTxn(txn, granteeID, itemID, kind)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if grant.Status == models.GrantRevoked {
			return nil
		}
		grant.Status = models.GrantRevoked

		data, err := json.Marshal(grant)
		if err != nil {
			return fmt.Errorf("marshal grant: %w", err)
		}
		return txn.Set(grantKey(granteeID, itemID, kind), data)
	})
}

// RevokeTrustedGrants revokes every active trusted-network grant from ownerID
// to granteeID and returns the revoked grants.
func (s *BadgerStore) RevokeTrustedGrants(_ context.Context, ownerID, granteeID string) ([]*models.SharingGrant, error) {
	var revoked []*models.SharingGrant
	prefix := []byte(grantKeyPrefix + granteeID + ":")

	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)

		var toRevoke []*models.SharingGrant
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var grant models.SharingGrant
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &grant)
			}); err != nil {
				it.Close()
				return fmt.Errorf("unmarshal grant: %w", err)
			}
			if grant.Kind == models.GrantTrusted && grant.OwnerID == ownerID && grant.Active() {
				g := grant
				toRevoke = append(toRevoke, &g)
			}
		}
		it.Close()

		for _, grant := range toRevoke {
			grant.Status = models.GrantRevoked
			data, err := json.Marshal(grant)
			if err != nil {
				return fmt.Errorf("marshal grant: %w", err)
			}
			if err := txn.Set(grantKey(grant.GranteeID, grant.ItemID, grant.Kind), data); err != nil {
				return fmt.Errorf("set grant: %w", err)
			}
		}
		revoked = toRevoke
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

func getGrantTxn(txn *badger.Txn, granteeID, itemID string, kind models.GrantKind) (*models.SharingGrant, error) {
	entry, err := txn.Get(grantKey(granteeID, itemID, kind))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}

	var grant models.SharingGrant
	if err := entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &grant)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal grant: %w", err)
	}
	return &grant, nil
}

// ---- FeedStore ----

// UpsertRow inserts or replaces the row for (viewer, item). A live tombstone
// for the pair suppresses the write so deletes win over racing upserts.
func (s *BadgerStore) UpsertRow(_ context.Context, entry *models.FeedEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal feed entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(feedTombKey(entry.ViewerID, entry.ItemID)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get tombstone: %w", err)
		}
		return putRowTxn(txn, entry, data)
	})
}

// PutRow inserts or replaces the row unconditionally. The pair's tombstone is
// cleared: the caller derived the row from current item and grant state, so
// the write supersedes the deletion the tombstone was guarding.
func (s *BadgerStore) PutRow(_ context.Context, entry *models.FeedEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal feed entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(feedTombKey(entry.ViewerID, entry.ItemID)); err != nil {
			return fmt.Errorf("clear tombstone: %w", err)
		}
		return putRowTxn(txn, entry, data)
	})
}

func putRowTxn(txn *badger.Txn, entry *models.FeedEntry, data []byte) error {
	// An existing row may live at a different score; drop its old key.
	if oldScore, ok, err := getRefTxn(txn, entry.ViewerID, entry.ItemID); err != nil {
		return err
	} else if ok {
		if err := txn.Delete(feedRowKey(entry.ViewerID, oldScore, entry.ItemID)); err != nil {
			return fmt.Errorf("delete old row: %w", err)
		}
	}

	if err := txn.Set(feedRowKey(entry.ViewerID, entry.Score, entry.ItemID), data); err != nil {
		return fmt.Errorf("set row: %w", err)
	}
	if err := txn.Set(feedRefKey(entry.ViewerID, entry.ItemID), []byte(strconv.FormatInt(entry.Score, 10))); err != nil {
		return fmt.Errorf("set row ref: %w", err)
	}
	if err := txn.Set(feedItemKey(entry.ItemID, entry.ViewerID), nil); err != nil {
		return fmt.Errorf("set item index: %w", err)
	}
	return nil
}

// DeleteRow removes the row for (viewer, item) and records a TTL tombstone.
// The tombstone is written even when no row exists so an upsert arriving out
// of order is still suppressed.
func (s *BadgerStore) DeleteRow(_ context.Context, viewerID, itemID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return deleteRowTxn(txn, viewerID, itemID)
	})
}

func deleteRowTxn(txn *badger.Txn, viewerID, itemID string) error {
	tomb := badger.NewEntry(feedTombKey(viewerID, itemID), nil).WithTTL(tombstoneTTL)
	if err := txn.SetEntry(tomb); err != nil {
		return fmt.Errorf("set tombstone: %w", err)
	}

	score, ok, err := getRefTxn(txn, viewerID, itemID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := txn.Delete(feedRowKey(viewerID, score, itemID)); err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	if err := txn.Delete(feedRefKey(viewerID, itemID)); err != nil {
		return fmt.Errorf("delete row ref: %w", err)
	}
	if err := txn.Delete(feedItemKey(itemID, viewerID)); err != nil {
		return fmt.Errorf("delete item index: %w", err)
	}
	return nil
}

// GetRow returns the row for (viewer, item) or ErrNotFound.
func (s *BadgerStore) GetRow(_ context.Context, viewerID, itemID string) (*models.FeedEntry, error) {
	var result *models.FeedEntry
	err := s.db.View(func(txn *badger.Txn) error {
		score, ok, err := getRefTxn(txn, viewerID, itemID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}

		entry, err := txn.Get(feedRowKey(viewerID, score, itemID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get row: %w", err)
		}

		var row models.FeedEntry
		if err := entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		}); err != nil {
			return fmt.Errorf("unmarshal row: %w", err)
		}
		result = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Page returns up to limit rows strictly after the given position. The rank
// order is baked into the key encoding, so a single forward scan suffices.
func (s *BadgerStore) Page(_ context.Context, viewerID string, after *RowPosition, limit int) ([]models.FeedEntry, error) {
	var rows []models.FeedEntry
	prefix := []byte(feedRowKeyPrefix + viewerID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		start := prefix
		if after != nil {
			start = feedRowKey(viewerID, after.Score, after.ItemID)
		}

		for it.Seek(start); it.ValidForPrefix(prefix) && len(rows) < limit; it.Next() {
			// The cursor row itself is excluded; only rows after it count.
			if after != nil && string(it.Item().Key()) == string(start) {
				continue
			}

			var row models.FeedEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("unmarshal row: %w", err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReplaceRows atomically swaps in a freshly built snapshot for the viewer.
// The whole replacement runs in one transaction, so a failure partway leaves
// the previous snapshot fully intact. Tombstones are cleared: the snapshot
// was built from current truth and supersedes them.
func (s *BadgerStore) ReplaceRows(_ context.Context, viewerID string, entries []models.FeedEntry, rebuiltAt time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		// Collect the viewer's current keys before mutating.
		var stale [][]byte
		var staleItems []string
		for _, p := range []string{
			feedRowKeyPrefix + viewerID + ":",
			feedRefKeyPrefix + viewerID + ":",
			feedTombKeyPrefix + viewerID + ":",
		} {
			prefix := []byte(p)
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				key := it.Item().KeyCopy(nil)
				stale = append(stale, key)
				if p == feedRefKeyPrefix+viewerID+":" {
					staleItems = append(staleItems, strings.TrimPrefix(string(key), p))
				}
			}
			it.Close()
		}

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete stale key: %w", err)
			}
		}
		for _, itemID := range staleItems {
			if err := txn.Delete(feedItemKey(itemID, viewerID)); err != nil {
				return fmt.Errorf("delete stale item index: %w", err)
			}
		}

		for i := range entries {
			entry := &entries[i]
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("marshal feed entry: %w", err)
			}
			if err := txn.Set(feedRowKey(viewerID, entry.Score, entry.ItemID), data); err != nil {
				return fmt.Errorf("set row: %w", err)
			}
			if err := txn.Set(feedRefKey(viewerID, entry.ItemID), []byte(strconv.FormatInt(entry.Score, 10))); err != nil {
				return fmt.Errorf("set row ref: %w", err)
			}
			if err := txn.Set(feedItemKey(entry.ItemID, viewerID), nil); err != nil {
				return fmt.Errorf("set item index: %w", err)
			}
		}

		ts := strconv.FormatInt(rebuiltAt.UnixNano(), 10)
		if err := txn.Set(feedMetaKey(viewerID), []byte(ts)); err != nil {
			return fmt.Errorf("set rebuild meta: %w", err)
		}
		return nil
	})
}

// UpdateRowCounters applies counter deltas to every cached row of the item.
// Scores and row positions are untouched; only the denormalized counters
// change. Returns the affected viewer IDs.
func (s *BadgerStore) UpdateRowCounters(_ context.Context, itemID string, likeDelta, commentDelta int64) ([]string, error) {
	viewers, err := s.viewersForItem(itemID)
	if err != nil {
		return nil, err
	}

	var updated []string
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, viewerID := range viewers {
			score, ok, err := getRefTxn(txn, viewerID, itemID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			rowKey := feedRowKey(viewerID, score, itemID)
			entry, err := txn.Get(rowKey)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get row: %w", err)
			}

			var row models.FeedEntry
			if err := entry.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("unmarshal row: %w", err)
			}

			row.LikeCount = clampCounter(row.LikeCount + likeDelta)
			row.CommentCount = clampCounter(row.CommentCount + commentDelta)

			data, err := json.Marshal(&row)
			if err != nil {
				return fmt.Errorf("marshal row: %w", err)
			}
			if err := txn.Set(rowKey, data); err != nil {
				return fmt.Errorf("set row: %w", err)
			}
			updated = append(updated, viewerID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRowsForItem removes the item's rows from every viewer's cache,
// leaving a tombstone per viewer. Returns the affected viewer IDs.
func (s *BadgerStore) DeleteRowsForItem(_ context.Context, itemID string) ([]string, error) {
	viewers, err := s.viewersForItem(itemID)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, viewerID := range viewers {
			if err := deleteRowTxn(txn, viewerID, itemID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return viewers, nil
}

// RowsForItem returns the item's cached rows across all viewers.
func (s *BadgerStore) RowsForItem(_ context.Context, itemID string) ([]models.FeedEntry, error) {
	viewers, err := s.viewersForItem(itemID)
	if err != nil {
		return nil, err
	}

	var rows []models.FeedEntry
	err = s.db.View(func(txn *badger.Txn) error {
		for _, viewerID := range viewers {
			score, ok, err := getRefTxn(txn, viewerID, itemID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			entry, err := txn.Get(feedRowKey(viewerID, score, itemID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get row: %w", err)
			}

			var row models.FeedEntry
			if err := entry.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("unmarshal row: %w", err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LastRebuild returns when the viewer's cache was last fully rebuilt.
func (s *BadgerStore) LastRebuild(_ context.Context, viewerID string) (time.Time, error) {
	var rebuilt time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(feedMetaKey(viewerID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get rebuild meta: %w", err)
		}

		return entry.Value(func(val []byte) error {
			ns, err := strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return fmt.Errorf("parse rebuild meta: %w", err)
			}
			rebuilt = time.Unix(0, ns)
			return nil
		})
	})
	if err != nil {
		return time.Time{}, err
	}
	return rebuilt, nil
}

// ListViewers returns every viewer with a materialized cache. The rebuild
// metadata doubles as the viewer registry, which is what public item fan-out
// iterates.
func (s *BadgerStore) ListViewers(_ context.Context) ([]string, error) {
	var viewers []string
	prefix := []byte(feedMetaKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			viewers = append(viewers, strings.TrimPrefix(string(it.Item().Key()), feedMetaKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return viewers, nil
}

// viewersForItem scans the reverse item index.
func (s *BadgerStore) viewersForItem(itemID string) ([]string, error) {
	var viewers []string
	prefix := []byte(feedItemKeyPrefix + itemID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			viewers = append(viewers, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return viewers, nil
}

// getRefTxn returns the score recorded for (viewer, item), if any.
func getRefTxn(txn *badger.Txn, viewerID, itemID string) (int64, bool, error) {
	entry, err := txn.Get(feedRefKey(viewerID, itemID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get row ref: %w", err)
	}

	var score int64
	if err := entry.Value(func(val []byte) error {
		score, err = strconv.ParseInt(string(val), 10, 64)
		return err
	}); err != nil {
		return 0, false, fmt.Errorf("parse row ref: %w", err)
	}
	return score, true, nil
}
