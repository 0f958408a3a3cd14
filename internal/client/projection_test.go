// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package client

import (
	"errors"
	"testing"
	"time"

	"github.com/reelfeed/reelfeed/internal/eventprocessor"
	"github.com/reelfeed/reelfeed/internal/models"
)

func loadedProjection(t *testing.T) *Projection {
	t.Helper()
	p := NewProjection(5 * time.Second)
	p.LoadPage(&models.FeedPage{
		Entries: []models.FeedEntry{
			{ItemID: "clip-1", Class: models.ClassOwn, Score: 300, LikeCount: 10, CommentCount: 2},
			{ItemID: "clip-2", Class: models.ClassPublic, Score: 200, LikeCount: 5},
			{ItemID: "clip-3", Class: models.ClassPublic, Score: 100},
		},
	})
	return p
}

func likeCount(t *testing.T, p *Projection, itemID string) int64 {
	t.Helper()
	entry, ok := p.Entry(itemID)
	if !ok {
		t.Fatalf("item %s not in projection", itemID)
	}
	return entry.LikeCount
}

func TestProjectionOptimisticLike(t *testing.T) {
	p := loadedProjection(t)

	if err := p.ApplyLocalLike("clip-1"); err != nil {
		t.Fatalf("ApplyLocalLike: %v", err)
	}
	if got := likeCount(t, p, "clip-1"); got != 11 {
		t.Errorf("displayed likes = %d, want 11", got)
	}

	// Confirmation folds the delta into the authoritative count.
	p.ResolvePending("clip-1", ActionLike, true)
	if got := likeCount(t, p, "clip-1"); got != 11 {
		t.Errorf("likes after confirm = %d, want 11", got)
	}
	if p.PendingCount() != 0 {
		t.Errorf("pending edits = %d, want 0", p.PendingCount())
	}
}

func TestProjectionRejectionRollsBack(t *testing.T) {
	p := loadedProjection(t)

	if err := p.ApplyLocalLike("clip-1"); err != nil {
		t.Fatalf("ApplyLocalLike: %v", err)
	}
	p.ResolvePending("clip-1", ActionLike, false)

	if got := likeCount(t, p, "clip-1"); got != 10 {
		t.Errorf("likes after rejection = %d, want the original 10", got)
	}
}

func TestProjectionRapidToggleConverges(t *testing.T) {
	p := loadedProjection(t)

	// Like and unlike in quick succession: both pend, display nets out.
	if err := p.ApplyLocalLike("clip-1"); err != nil {
		t.Fatalf("ApplyLocalLike: %v", err)
	}
	if err := p.ApplyLocalUnlike("clip-1"); err != nil {
		t.Fatalf("ApplyLocalUnlike: %v", err)
	}
	if got := likeCount(t, p, "clip-1"); got != 10 {
		t.Errorf("displayed likes mid-toggle = %d, want 10", got)
	}

	// Server echoes of our own edits are suppressed while pending.
	echo := eventprocessor.NewFeedEvent(eventprocessor.EventLikeAdded)
	echo.ItemID = "clip-1"
	p.ApplyServerEvent(echo)
	if got := likeCount(t, p, "clip-1"); got != 10 {
		t.Errorf("echo merged through suppression, likes = %d, want 10", got)
	}

	// Both confirmations resolve to the server's net state.
	p.ResolvePending("clip-1", ActionLike, true)
	p.ResolvePending("clip-1", ActionUnlike, true)
	if got := likeCount(t, p, "clip-1"); got != 10 {
		t.Errorf("likes after toggle settled = %d, want 10", got)
	}
	if p.PendingCount() != 0 {
		t.Errorf("pending edits = %d, want 0", p.PendingCount())
	}
}

func TestProjectionDuplicateEditRejected(t *testing.T) {
	p := loadedProjection(t)

	if err := p.ApplyLocalLike("clip-1"); err != nil {
		t.Fatalf("ApplyLocalLike: %v", err)
	}
	if err := p.ApplyLocalLike("clip-1"); !errors.Is(err, ErrEditPending) {
		t.Errorf("second like err = %v, want ErrEditPending", err)
	}
	if err := p.ApplyLocalLike("ghost"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("unknown item err = %v, want ErrUnknownItem", err)
	}
}

func TestProjectionExpiryRollsBack(t *testing.T) {
	p := loadedProjection(t)

	base := time.Now()
	p.SetNowFunc(func() time.Time { return base })
	if err := p.ApplyLocalLike("clip-1"); err != nil {
		t.Fatalf("ApplyLocalLike: %v", err)
	}

	// Within the timeout nothing expires.
	p.SetNowFunc(func() time.Time { return base.Add(time.Second) })
	if expired := p.ExpirePending(); len(expired) != 0 {
		t.Errorf("expired %d edits early", len(expired))
	}

	// Past the timeout the edit rolls back even without a server response.
	p.SetNowFunc(func() time.Time { return base.Add(10 * time.Second) })
	expired := p.ExpirePending()
	if len(expired) != 1 || expired[0].ItemID != "clip-1" || expired[0].Action != ActionLike {
		t.Fatalf("expired = %+v, want one like edit for clip-1", expired)
	}
	if got := likeCount(t, p, "clip-1"); got != 10 {
		t.Errorf("likes after expiry = %d, want the original 10", got)
	}
}

func TestProjectionMergesForeignCounters(t *testing.T) {
	p := loadedProjection(t)

	// No pending edit on clip-2: someone else's like merges straight in.
	like := eventprocessor.NewFeedEvent(eventprocessor.EventLikeAdded)
	like.ItemID = "clip-2"
	p.ApplyServerEvent(like)
	if got := likeCount(t, p, "clip-2"); got != 6 {
		t.Errorf("likes = %d, want 6", got)
	}

	// Comments always merge, there are no optimistic comment edits.
	comment := eventprocessor.NewFeedEvent(eventprocessor.EventCommentAdded)
	comment.ItemID = "clip-1"
	p.ApplyServerEvent(comment)
	if entry, _ := p.Entry("clip-1"); entry.CommentCount != 3 {
		t.Errorf("comments = %d, want 3", entry.CommentCount)
	}
}

func TestProjectionItemDeletedRemovesEntry(t *testing.T) {
	p := loadedProjection(t)

	if err := p.ApplyLocalLike("clip-2"); err != nil {
		t.Fatalf("ApplyLocalLike: %v", err)
	}

	del := eventprocessor.NewFeedEvent(eventprocessor.EventItemDeleted)
	del.ItemID = "clip-2"
	p.ApplyServerEvent(del)

	if _, ok := p.Entry("clip-2"); ok {
		t.Error("deleted item still projected")
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
	if p.PendingCount() != 0 {
		t.Error("pending edit survived its item's deletion")
	}

	// Remaining entries keep their order.
	entries := p.Entries()
	if entries[0].ItemID != "clip-1" || entries[1].ItemID != "clip-3" {
		t.Errorf("order after removal = %s, %s", entries[0].ItemID, entries[1].ItemID)
	}
}

func TestProjectionVisibilityEventSetsRefreshFlag(t *testing.T) {
	p := loadedProjection(t)

	if p.NeedsRefresh() {
		t.Fatal("fresh projection should not need a refresh")
	}

	revoke := eventprocessor.NewFeedEvent(eventprocessor.EventGrantRevoked)
	revoke.ItemID = "clip-2"
	revoke.ViewerID = "me"
	revoke.GrantKind = models.GrantDirect
	p.ApplyServerEvent(revoke)

	if !p.NeedsRefresh() {
		t.Error("grant revocation should flag the projection for refetch")
	}

	p.Reset()
	if p.NeedsRefresh() || p.Len() != 0 {
		t.Error("Reset should clear entries and the refresh flag")
	}
}

func TestProjectionLoadPageReplacesExisting(t *testing.T) {
	p := loadedProjection(t)

	p.LoadPage(&models.FeedPage{
		Entries: []models.FeedEntry{
			{ItemID: "clip-2", Class: models.ClassPublic, Score: 200, LikeCount: 50},
			{ItemID: "clip-4", Class: models.ClassPublic, Score: 90},
		},
	})

	if got := likeCount(t, p, "clip-2"); got != 50 {
		t.Errorf("refetched entry likes = %d, want 50", got)
	}
	if p.Len() != 4 {
		t.Errorf("Len = %d, want 4", p.Len())
	}
}
