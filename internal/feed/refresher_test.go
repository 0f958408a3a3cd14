// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reelfeed/reelfeed/internal/models"
	"github.com/reelfeed/reelfeed/internal/store"
)

func testRefresherConfig() RefresherConfig {
	return RefresherConfig{
		StalenessWindow:     30 * time.Second,
		PublicRecencyWindow: 720 * time.Hour,
		RetryAttempts:       2,
		RetryDelay:          time.Millisecond,
	}
}

// flakyItemStore fails the first failures calls of each method, then
// delegates.
type flakyItemStore struct {
	store.ItemStore
	mu       sync.Mutex
	failures int
	calls    int
}

var errFlaky = errors.New("transient store failure")

func (f *flakyItemStore) ListItemsByOwner(ctx context.Context, ownerID string) ([]*models.Item, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errFlaky
	}
	return f.ItemStore.ListItemsByOwner(ctx, ownerID)
}

func seedWorld(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	items := []*models.Item{
		{ID: "own-1", OwnerID: "viewer-1", Public: false, CreatedAt: now.Add(-time.Hour)},
		{ID: "direct-1", OwnerID: "friend-1", Public: false, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "trusted-1", OwnerID: "friend-2", Public: false, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "public-1", OwnerID: "stranger-1", Public: true, CreatedAt: now.Add(-4 * time.Hour)},
		{ID: "public-old", OwnerID: "stranger-1", Public: true, CreatedAt: now.Add(-2000 * time.Hour)},
		{ID: "hidden-1", OwnerID: "stranger-2", Public: false, CreatedAt: now},
	}
	for _, item := range items {
		if err := s.PutItem(ctx, item); err != nil {
			t.Fatalf("PutItem(%s): %v", item.ID, err)
		}
	}

	grants := []*models.SharingGrant{
		{OwnerID: "friend-1", ItemID: "direct-1", GranteeID: "viewer-1", Kind: models.GrantDirect, Status: models.GrantActive},
		{OwnerID: "friend-2", ItemID: "trusted-1", GranteeID: "viewer-1", Kind: models.GrantTrusted, Status: models.GrantActive},
		{OwnerID: "friend-1", ItemID: "gone", GranteeID: "viewer-1", Kind: models.GrantDirect, Status: models.GrantActive},
		{OwnerID: "friend-1", ItemID: "direct-1", GranteeID: "someone-else", Kind: models.GrantDirect, Status: models.GrantActive},
	}
	for _, grant := range grants {
		if err := s.PutGrant(ctx, grant); err != nil {
			t.Fatalf("PutGrant: %v", err)
		}
	}
}

func TestRefresherColdRebuild(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedWorld(t, s)

	r := NewRefresher(s, s, s, testRefresherConfig())
	rebuilt, err := r.EnsureFresh(ctx, "viewer-1")
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if !rebuilt {
		t.Error("cold cache should trigger a rebuild")
	}

	rows, err := s.Page(ctx, "viewer-1", nil, 100)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}

	want := map[string]models.RelationshipClass{
		"own-1":     models.ClassOwn,
		"direct-1":  models.ClassDirectShare,
		"trusted-1": models.ClassTrustedShare,
		"public-1":  models.ClassPublic,
	}
	if len(rows) != len(want) {
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ItemID)
		}
		t.Fatalf("rows = %v, want exactly %d visible items", ids, len(want))
	}
	for _, row := range rows {
		wantClass, ok := want[row.ItemID]
		if !ok {
			t.Errorf("unexpected row %s (hidden, expired or missing item leaked in)", row.ItemID)
			continue
		}
		if row.Class != wantClass {
			t.Errorf("row %s class = %q, want %q", row.ItemID, row.Class, wantClass)
		}
	}

	// Rank order follows class priority here since weights dominate.
	wantOrder := []string{"own-1", "direct-1", "trusted-1", "public-1"}
	for i, id := range wantOrder {
		if rows[i].ItemID != id {
			t.Errorf("rows[%d] = %s, want %s", i, rows[i].ItemID, id)
		}
	}
}

func TestRefresherFreshCacheIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedWorld(t, s)

	r := NewRefresher(s, s, s, testRefresherConfig())
	if _, err := r.EnsureFresh(ctx, "viewer-1"); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	rebuilt, err := r.EnsureFresh(ctx, "viewer-1")
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if rebuilt {
		t.Error("fresh cache must not rebuild")
	}
}

func TestRefresherStaleCacheRebuilds(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedWorld(t, s)

	r := NewRefresher(s, s, s, testRefresherConfig())
	if _, err := r.EnsureFresh(ctx, "viewer-1"); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	// Move the clock beyond the staleness window.
	future := time.Now().Add(time.Minute)
	r.SetNowFunc(func() time.Time { return future })

	rebuilt, err := r.EnsureFresh(ctx, "viewer-1")
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if !rebuilt {
		t.Error("stale cache should rebuild")
	}
}

func TestRefresherRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedWorld(t, s)

	flaky := &flakyItemStore{ItemStore: s, failures: 2}
	r := NewRefresher(flaky, s, s, testRefresherConfig())

	if _, err := r.EnsureFresh(ctx, "viewer-1"); err != nil {
		t.Fatalf("EnsureFresh should survive %d transient failures: %v", flaky.failures, err)
	}
}

func TestRefresherAbortsOverPartialCommit(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedWorld(t, s)

	r := NewRefresher(s, s, s, testRefresherConfig())
	if _, err := r.EnsureFresh(ctx, "viewer-1"); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	before, _ := s.Page(ctx, "viewer-1", nil, 100)

	// All retries exhausted: the rebuild must fail without touching the
	// existing snapshot.
	flaky := &flakyItemStore{ItemStore: s, failures: 1000}
	r2 := NewRefresher(flaky, s, s, testRefresherConfig())
	if err := r2.ForceRebuild(ctx, "viewer-1"); err == nil {
		t.Fatal("rebuild should fail when the item store stays down")
	}

	after, _ := s.Page(ctx, "viewer-1", nil, 100)
	if len(after) != len(before) {
		t.Errorf("failed rebuild changed the cache: %d rows before, %d after", len(before), len(after))
	}
}

func TestRefresherCoalescesConcurrentRebuilds(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedWorld(t, s)

	r := NewRefresher(s, s, s, testRefresherConfig())

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = r.ForceRebuild(ctx, "viewer-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent rebuild %d: %v", i, err)
		}
	}
}

func TestRefresherIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedWorld(t, s)

	r := NewRefresher(s, s, s, testRefresherConfig())
	if err := r.ForceRebuild(ctx, "viewer-1"); err != nil {
		t.Fatalf("ForceRebuild: %v", err)
	}
	first, _ := s.Page(ctx, "viewer-1", nil, 100)

	if err := r.ForceRebuild(ctx, "viewer-1"); err != nil {
		t.Fatalf("ForceRebuild: %v", err)
	}
	second, _ := s.Page(ctx, "viewer-1", nil, 100)

	if len(first) != len(second) {
		t.Fatalf("row count changed across identical rebuilds: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ItemID != second[i].ItemID || first[i].Score != second[i].Score {
			t.Errorf("row %d differs across identical rebuilds", i)
		}
	}
}
