// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

// Package models defines the core data types shared across the feed service:
// shareable items, sharing grants, and materialized feed cache rows.
package models

import "time"

// RelationshipClass is the reason an item is visible to a given viewer.
// Classes form a strict priority order: OWN > DIRECT_SHARE > TRUSTED_SHARE > PUBLIC.
// A (viewer, item) pair that qualifies for multiple classes carries the
// highest-priority one.
type RelationshipClass string

const (
	// ClassOwn indicates the viewer owns the item.
	ClassOwn RelationshipClass = "OWN"
	// ClassDirectShare indicates the item was shared directly with the viewer.
	ClassDirectShare RelationshipClass = "DIRECT_SHARE"
	// ClassTrustedShare indicates the item was shared via the viewer's trusted network.
	ClassTrustedShare RelationshipClass = "TRUSTED_SHARE"
	// ClassPublic indicates the item is publicly visible.
	ClassPublic RelationshipClass = "PUBLIC"
	// ClassAbsent indicates the item is not visible to the viewer at all.
	ClassAbsent RelationshipClass = ""
)

// Weight returns the ranking weight for the class. Higher-priority classes
// have strictly larger weights so that class bands never interleave in the
// rank order.
func (c RelationshipClass) Weight() int64 {
	switch c {
	case ClassOwn:
		return 100
	case ClassDirectShare:
		return 80
	case ClassTrustedShare:
		return 60
	case ClassPublic:
		return 40
	default:
		return 0
	}
}

// Visible reports whether the class grants any visibility.
func (c RelationshipClass) Visible() bool {
	return c != ClassAbsent
}

// GrantKind distinguishes how a sharing grant reaches its grantee.
type GrantKind string

const (
	// GrantDirect is a share to a specific viewer.
	GrantDirect GrantKind = "direct"
	// GrantTrusted is a share through the owner's trusted network.
	GrantTrusted GrantKind = "trusted"
)

// Class returns the relationship class a grant of this kind confers.
func (k GrantKind) Class() RelationshipClass {
	switch k {
	case GrantDirect:
		return ClassDirectShare
	case GrantTrusted:
		return ClassTrustedShare
	default:
		return ClassAbsent
	}
}

// GrantStatus is the lifecycle state of a sharing grant.
type GrantStatus string

const (
	// GrantActive means the grant currently confers visibility.
	GrantActive GrantStatus = "active"
	// GrantRevoked means the grant no longer confers visibility.
	GrantRevoked GrantStatus = "revoked"
)

// Item is a shareable content item. The feed service references items but
// does not own them; the item store is the system of record. The only item
// fields the feed service mutates are the like/comment counters.
type Item struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Public       bool      `json:"public"`
	CreatedAt    time.Time `json:"created_at"`
	LikeCount    int64     `json:"like_count"`
	CommentCount int64     `json:"comment_count"`
	Deleted      bool      `json:"deleted,omitempty"`
}

// SharingGrant gives a grantee visibility into one of the owner's items.
// Grants are the only source of DIRECT_SHARE and TRUSTED_SHARE visibility.
type SharingGrant struct {
	OwnerID   string      `json:"owner_id"`
	ItemID    string      `json:"item_id"`
	GranteeID string      `json:"grantee_id"`
	Kind      GrantKind   `json:"kind"`
	Status    GrantStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Active reports whether the grant currently confers visibility.
func (g *SharingGrant) Active() bool {
	return g.Status == GrantActive
}

// FeedEntry is one materialized row of a viewer's feed cache.
// At most one entry exists per (viewer, item) pair. The like/comment counts
// are denormalized snapshots so a page read needs no item store lookup;
// they never influence the score.
type FeedEntry struct {
	ViewerID     string            `json:"viewer_id"`
	ItemID       string            `json:"item_id"`
	Class        RelationshipClass `json:"class"`
	Score        int64             `json:"score"`
	InsertedAt   time.Time         `json:"inserted_at"`
	ItemOwnerID  string            `json:"item_owner_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LikeCount    int64             `json:"like_count"`
	CommentCount int64             `json:"comment_count"`
}

// FeedPage is one page of a viewer's ranked feed.
type FeedPage struct {
	Entries    []FeedEntry `json:"entries"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
	Stale      bool        `json:"stale,omitempty"`
}
