// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package feed

import (
	"context"
	"testing"
	"time"

	"github.com/reelfeed/reelfeed/internal/models"
	"github.com/reelfeed/reelfeed/internal/store"
)

func activeGrant(granteeID, itemID string, kind models.GrantKind) *models.SharingGrant {
	return &models.SharingGrant{
		OwnerID:   "owner-1",
		ItemID:    itemID,
		GranteeID: granteeID,
		Kind:      kind,
		Status:    models.GrantActive,
		CreatedAt: time.Now(),
	}
}

func TestBestClassPriority(t *testing.T) {
	item := &models.Item{ID: "i1", OwnerID: "owner-1", Public: true, CreatedAt: time.Now()}

	tests := []struct {
		name     string
		viewerID string
		grants   []*models.SharingGrant
		want     models.RelationshipClass
	}{
		{
			name:     "owner wins over everything",
			viewerID: "owner-1",
			grants:   []*models.SharingGrant{activeGrant("owner-1", "i1", models.GrantDirect)},
			want:     models.ClassOwn,
		},
		{
			name:     "direct beats trusted and public",
			viewerID: "v1",
			grants: []*models.SharingGrant{
				activeGrant("v1", "i1", models.GrantTrusted),
				activeGrant("v1", "i1", models.GrantDirect),
			},
			want: models.ClassDirectShare,
		},
		{
			name:     "trusted beats public",
			viewerID: "v1",
			grants:   []*models.SharingGrant{activeGrant("v1", "i1", models.GrantTrusted)},
			want:     models.ClassTrustedShare,
		},
		{
			name:     "public without grants",
			viewerID: "v1",
			grants:   nil,
			want:     models.ClassPublic,
		},
		{
			name:     "revoked grant falls back to public",
			viewerID: "v1",
			grants: []*models.SharingGrant{
				{ItemID: "i1", GranteeID: "v1", Kind: models.GrantDirect, Status: models.GrantRevoked},
			},
			want: models.ClassPublic,
		},
		{
			name:     "grants for other items ignored",
			viewerID: "v1",
			grants:   []*models.SharingGrant{activeGrant("v1", "other", models.GrantDirect)},
			want:     models.ClassPublic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BestClass(tt.viewerID, item, tt.grants); got != tt.want {
				t.Errorf("BestClass = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBestClassAbsent(t *testing.T) {
	private := &models.Item{ID: "i1", OwnerID: "owner-1", Public: false, CreatedAt: time.Now()}
	if got := BestClass("v1", private, nil); got != models.ClassAbsent {
		t.Errorf("private item without grants = %q, want absent", got)
	}

	deleted := &models.Item{ID: "i1", OwnerID: "owner-1", Public: true, Deleted: true}
	if got := BestClass("v1", deleted, []*models.SharingGrant{activeGrant("v1", "i1", models.GrantDirect)}); got != models.ClassAbsent {
		t.Errorf("deleted item = %q, want absent even with grants", got)
	}

	if got := BestClass("v1", nil, nil); got != models.ClassAbsent {
		t.Errorf("nil item = %q, want absent", got)
	}
}

func TestClassifierFromStores(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewClassifier(s, s, 720*time.Hour)

	item := &models.Item{ID: "i1", OwnerID: "owner-1", Public: false, CreatedAt: time.Now()}
	if err := s.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	if err := s.PutGrant(ctx, activeGrant("v1", "i1", models.GrantTrusted)); err != nil {
		t.Fatalf("PutGrant: %v", err)
	}

	class, got, err := c.Classify(ctx, "v1", "i1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if class != models.ClassTrustedShare {
		t.Errorf("class = %q, want trusted share", class)
	}
	if got == nil || got.ID != "i1" {
		t.Errorf("item = %+v, want i1", got)
	}

	// Missing item resolves to absent, not an error.
	class, got, err = c.Classify(ctx, "v1", "ghost")
	if err != nil {
		t.Fatalf("Classify(ghost): %v", err)
	}
	if class != models.ClassAbsent || got != nil {
		t.Errorf("Classify(ghost) = %q, %+v; want absent, nil", class, got)
	}

	// Deleted item resolves to absent.
	if err := s.DeleteItem(ctx, "i1"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	class, _, err = c.Classify(ctx, "v1", "i1")
	if err != nil {
		t.Fatalf("Classify after delete: %v", err)
	}
	if class != models.ClassAbsent {
		t.Errorf("class after delete = %q, want absent", class)
	}
}

func TestClassifierPublicRecencyWindow(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewClassifier(s, s, 720*time.Hour)

	recent := &models.Item{ID: "recent", OwnerID: "owner-1", Public: true, CreatedAt: time.Now().Add(-time.Hour)}
	old := &models.Item{ID: "old", OwnerID: "owner-1", Public: true, CreatedAt: time.Now().Add(-1000 * time.Hour)}
	for _, item := range []*models.Item{recent, old} {
		if err := s.PutItem(ctx, item); err != nil {
			t.Fatalf("PutItem(%s): %v", item.ID, err)
		}
	}

	if class, _, err := c.Classify(ctx, "v1", "recent"); err != nil || class != models.ClassPublic {
		t.Errorf("recent public item = %q, %v; want public", class, err)
	}

	// PUBLIC alone cannot justify an item older than the window.
	if class, item, err := c.Classify(ctx, "v1", "old"); err != nil || class != models.ClassAbsent || item != nil {
		t.Errorf("aged-out public item = %q, %+v, %v; want absent", class, item, err)
	}

	// Ownership and grants are not windowed.
	if class, _, err := c.Classify(ctx, "owner-1", "old"); err != nil || class != models.ClassOwn {
		t.Errorf("owner of aged-out item = %q, %v; want own", class, err)
	}
	if err := s.PutGrant(ctx, activeGrant("v1", "old", models.GrantDirect)); err != nil {
		t.Fatalf("PutGrant: %v", err)
	}
	if class, _, err := c.Classify(ctx, "v1", "old"); err != nil || class != models.ClassDirectShare {
		t.Errorf("granted aged-out item = %q, %v; want direct share", class, err)
	}

	// A zero window disables the cutoff.
	unbounded := NewClassifier(s, s, 0)
	if class, _, err := unbounded.Classify(ctx, "v2", "old"); err != nil || class != models.ClassPublic {
		t.Errorf("unbounded window = %q, %v; want public", class, err)
	}
}
