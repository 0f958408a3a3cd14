// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reelfeed/reelfeed/internal/models"
)

// MemoryStore implements ItemStore, GrantStore and FeedStore in memory.
// It mirrors BadgerStore semantics, including delete tombstones, and is the
// backing store for tests and for single-process development.
type MemoryStore struct {
	mu sync.RWMutex

	items  map[string]*models.Item
	grants map[string]*models.SharingGrant // key: granteeID + ":" + itemID + ":" + kind

	rows       map[string]map[string]*models.FeedEntry // viewerID -> itemID -> row
	tombstones map[string]time.Time                    // viewerID + ":" + itemID -> expiry
	rebuilds   map[string]time.Time                    // viewerID -> last rebuild

	// now is injectable for tombstone expiry tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:      make(map[string]*models.Item),
		grants:     make(map[string]*models.SharingGrant),
		rows:       make(map[string]map[string]*models.FeedEntry),
		tombstones: make(map[string]time.Time),
		rebuilds:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetNowFunc overrides the clock used for tombstone expiry. Test use only.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ---- ItemStore ----

func (s *MemoryStore) PutItem(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, id string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.Deleted = true
	return nil
}

func (s *MemoryStore) ListItemsByOwner(_ context.Context, ownerID string) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []*models.Item
	for _, item := range s.items {
		if item.OwnerID == ownerID && !item.Deleted {
			cp := *item
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (s *MemoryStore) ListPublicItemsSince(_ context.Context, since time.Time) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []*models.Item
	for _, item := range s.items {
		if item.Public && !item.Deleted && !item.CreatedAt.Before(since) {
			cp := *item
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) UpdateCounters(_ context.Context, itemID string, likeDelta, commentDelta int64) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	item.LikeCount = clampCounter(item.LikeCount + likeDelta)
	item.CommentCount = clampCounter(item.CommentCount + commentDelta)
	cp := *item
	return &cp, nil
}

// ---- GrantStore ----

func grantMapKey(granteeID, itemID string, kind models.GrantKind) string {
	return granteeID + ":" + itemID + ":" + string(kind)
}

func (s *MemoryStore) PutGrant(_ context.Context, grant *models.SharingGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *grant
	s.grants[grantMapKey(grant.GranteeID, grant.ItemID, grant.Kind)] = &cp
	return nil
}

func (s *MemoryStore) GetGrant(_ context.Context, granteeID, itemID string, kind models.GrantKind) (*models.SharingGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.grants[grantMapKey(granteeID, itemID, kind)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *grant
	return &cp, nil
}

func (s *MemoryStore) ListGrantsForItem(_ context.Context, granteeID, itemID string) ([]*models.SharingGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var grants []*models.SharingGrant
	for _, grant := range s.grants {
		if grant.GranteeID == granteeID && grant.ItemID == itemID {
			cp := *grant
			grants = append(grants, &cp)
		}
	}
	return grants, nil
}

func (s *MemoryStore) ListGrantsForGrantee(_ context.Context, granteeID string) ([]*models.SharingGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var grants []*models.SharingGrant
	for _, grant := range s.grants {
		if grant.GranteeID == granteeID {
			cp := *grant
			grants = append(grants, &cp)
		}
	}
	return grants, nil
}

func (s *MemoryStore) RevokeGrant(_ context.Context, granteeID, itemID string, kind models.GrantKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if grant, ok := s.grants[grantMapKey(granteeID, itemID, kind)]; ok {
		grant.Status = models.GrantRevoked
	}
	return nil
}

func (s *MemoryStore) RevokeTrustedGrants(_ context.Context, ownerID, granteeID string) ([]*models.SharingGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []*models.SharingGrant
	for _, grant := range s.grants {
		if grant.GranteeID == granteeID && grant.OwnerID == ownerID &&
			grant.Kind == models.GrantTrusted && grant.Active() {
			grant.Status = models.GrantRevoked
			cp := *grant
			revoked = append(revoked, &cp)
		}
	}
	return revoked, nil
}

// ---- FeedStore ----

func tombMapKey(viewerID, itemID string) string {
	return viewerID + ":" + itemID
}

func (s *MemoryStore) tombstoned(viewerID, itemID string) bool {
	expiry, ok := s.tombstones[tombMapKey(viewerID, itemID)]
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		delete(s.tombstones, tombMapKey(viewerID, itemID))
		return false
	}
	return true
}

func (s *MemoryStore) UpsertRow(_ context.Context, entry *models.FeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tombstoned(entry.ViewerID, entry.ItemID) {
		return nil
	}
	s.putRowLocked(entry)
	return nil
}

func (s *MemoryStore) PutRow(_ context.Context, entry *models.FeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tombstones, tombMapKey(entry.ViewerID, entry.ItemID))
	s.putRowLocked(entry)
	return nil
}

func (s *MemoryStore) putRowLocked(entry *models.FeedEntry) {
	viewer := s.rows[entry.ViewerID]
	if viewer == nil {
		viewer = make(map[string]*models.FeedEntry)
		s.rows[entry.ViewerID] = viewer
	}
	cp := *entry
	viewer[entry.ItemID] = &cp
}

func (s *MemoryStore) DeleteRow(_ context.Context, viewerID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones[tombMapKey(viewerID, itemID)] = s.now().Add(tombstoneTTL)
	if viewer := s.rows[viewerID]; viewer != nil {
		delete(viewer, itemID)
	}
	return nil
}

func (s *MemoryStore) GetRow(_ context.Context, viewerID, itemID string) (*models.FeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if viewer := s.rows[viewerID]; viewer != nil {
		if row, ok := viewer[itemID]; ok {
			cp := *row
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Page(_ context.Context, viewerID string, after *RowPosition, limit int) ([]models.FeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	viewer := s.rows[viewerID]
	sorted := make([]models.FeedEntry, 0, len(viewer))
	for _, row := range viewer {
		sorted = append(sorted, *row)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ItemID < sorted[j].ItemID
	})

	var rows []models.FeedEntry
	for _, row := range sorted {
		if after != nil {
			// Strictly after the cursor position in rank order.
			if row.Score > after.Score {
				continue
			}
			if row.Score == after.Score && row.ItemID <= after.ItemID {
				continue
			}
		}
		rows = append(rows, row)
		if len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (s *MemoryStore) ReplaceRows(_ context.Context, viewerID string, entries []models.FeedEntry, rebuiltAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	viewer := make(map[string]*models.FeedEntry, len(entries))
	for i := range entries {
		cp := entries[i]
		viewer[cp.ItemID] = &cp
	}
	s.rows[viewerID] = viewer
	s.rebuilds[viewerID] = rebuiltAt

	for key := range s.tombstones {
		if len(key) > len(viewerID) && key[:len(viewerID)+1] == viewerID+":" {
			delete(s.tombstones, key)
		}
	}
	return nil
}

func (s *MemoryStore) UpdateRowCounters(_ context.Context, itemID string, likeDelta, commentDelta int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var viewers []string
	for viewerID, viewer := range s.rows {
		if row, ok := viewer[itemID]; ok {
			row.LikeCount = clampCounter(row.LikeCount + likeDelta)
			row.CommentCount = clampCounter(row.CommentCount + commentDelta)
			viewers = append(viewers, viewerID)
		}
	}
	sort.Strings(viewers)
	return viewers, nil
}

func (s *MemoryStore) DeleteRowsForItem(_ context.Context, itemID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var viewers []string
	for viewerID, viewer := range s.rows {
		if _, ok := viewer[itemID]; ok {
			delete(viewer, itemID)
			s.tombstones[tombMapKey(viewerID, itemID)] = s.now().Add(tombstoneTTL)
			viewers = append(viewers, viewerID)
		}
	}
	sort.Strings(viewers)
	return viewers, nil
}

func (s *MemoryStore) RowsForItem(_ context.Context, itemID string) ([]models.FeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []models.FeedEntry
	for _, viewer := range s.rows {
		if row, ok := viewer[itemID]; ok {
			rows = append(rows, *row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ViewerID < rows[j].ViewerID
	})
	return rows, nil
}

func (s *MemoryStore) LastRebuild(_ context.Context, viewerID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rebuilt, ok := s.rebuilds[viewerID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return rebuilt, nil
}

func (s *MemoryStore) ListViewers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	viewers := make([]string, 0, len(s.rebuilds))
	for viewerID := range s.rebuilds {
		viewers = append(viewers, viewerID)
	}
	sort.Strings(viewers)
	return viewers, nil
}
