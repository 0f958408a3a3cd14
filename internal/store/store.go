// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

// Package store defines the persistence interfaces for items, sharing grants
// and the materialized per-viewer feed cache, together with a BadgerDB
// implementation and an in-memory implementation for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/reelfeed/reelfeed/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// RowPosition identifies a position in a viewer's ranked feed for cursor
// pagination. Rows are ordered by score descending, then item ID ascending.
type RowPosition struct {
	Score  int64  `json:"s"`
	ItemID string `json:"i"`
}

// ItemStore is the system of record for shareable items.
type ItemStore interface {
	// PutItem creates or replaces an item.
	PutItem(ctx context.Context, item *models.Item) error

	// GetItem returns the item or ErrNotFound.
	GetItem(ctx context.Context, id string) (*models.Item, error)

	// DeleteItem marks the item deleted. Deleting an unknown item is an error.
	DeleteItem(ctx context.Context, id string) error

	// ListItemsByOwner returns all non-deleted items owned by ownerID.
	ListItemsByOwner(ctx context.Context, ownerID string) ([]*models.Item, error)

	// ListPublicItemsSince returns all non-deleted public items created at or
	// after the given time, newest first.
	ListPublicItemsSince(ctx context.Context, since time.Time) ([]*models.Item, error)

	// UpdateCounters atomically applies like and comment count deltas and
	// returns the updated item. Counters never go below zero.
	UpdateCounters(ctx context.Context, itemID string, likeDelta, commentDelta int64) (*models.Item, error)
}

// GrantStore is the system of record for sharing grants.
//
// A grantee can hold a direct and a trusted grant on the same item at once,
// so grants are keyed by (grantee, item, kind). Revoking one kind never
// disturbs the other.
type GrantStore interface {
	// PutGrant creates or replaces a grant keyed by (grantee, item, kind).
	PutGrant(ctx context.Context, grant *models.SharingGrant) error

	// GetGrant returns the grant or ErrNotFound.
	GetGrant(ctx context.Context, granteeID, itemID string, kind models.GrantKind) (*models.SharingGrant, error)

	// ListGrantsForItem returns the grants the grantee holds on one item,
	// active and revoked alike.
	ListGrantsForItem(ctx context.Context, granteeID, itemID string) ([]*models.SharingGrant, error)

	// ListGrantsForGrantee returns all grants held by the grantee, active and
	// revoked alike. Callers filter by status.
	ListGrantsForGrantee(ctx context.Context, granteeID string) ([]*models.SharingGrant, error)

	// RevokeGrant marks a grant revoked. Revoking an unknown or already
	// revoked grant is not an error.
	RevokeGrant(ctx context.Context, granteeID, itemID string, kind models.GrantKind) error

	// RevokeTrustedGrants revokes every active trusted-network grant from
	// ownerID to granteeID and returns the grants that were revoked.
	RevokeTrustedGrants(ctx context.Context, ownerID, granteeID string) ([]*models.SharingGrant, error)
}

// FeedStore persists the materialized per-viewer feed cache.
//
// All mutations are atomic at the single-row level; ReplaceRows is atomic for
// the whole viewer. Row deletion leaves a short-lived tombstone so that a
// delete racing a concurrent upsert for the same (viewer, item) wins
// regardless of arrival order.
type FeedStore interface {
	// UpsertRow inserts or replaces the row for (entry.ViewerID, entry.ItemID).
	// A live tombstone for the pair suppresses the write.
	UpsertRow(ctx context.Context, entry *models.FeedEntry) error

	// PutRow inserts or replaces the row unconditionally, clearing any
	// tombstone for the pair. It is for writers deriving the row from
	// current item and grant state, where the result supersedes whatever
	// deletion the tombstone was guarding.
	PutRow(ctx context.Context, entry *models.FeedEntry) error

	// DeleteRow removes the row for (viewerID, itemID) and records a
	// tombstone. Deleting an absent row still records the tombstone.
	DeleteRow(ctx context.Context, viewerID, itemID string) error

	// GetRow returns the row for (viewerID, itemID) or ErrNotFound.
	GetRow(ctx context.Context, viewerID, itemID string) (*models.FeedEntry, error)

	// Page returns up to limit rows strictly after the given position in
	// rank order. A nil position starts from the top.
	Page(ctx context.Context, viewerID string, after *RowPosition, limit int) ([]models.FeedEntry, error)

	// ReplaceRows atomically replaces the viewer's entire cache with the
	// given entries and records rebuiltAt as the last rebuild time. Existing
	// tombstones for the viewer are cleared; the new snapshot is
	// authoritative.
	ReplaceRows(ctx context.Context, viewerID string, entries []models.FeedEntry, rebuiltAt time.Time) error

	// UpdateRowCounters applies counter deltas to every cached row of the
	// item across all viewers and returns the affected viewer IDs. Counter
	// updates never change a row's score or position.
	UpdateRowCounters(ctx context.Context, itemID string, likeDelta, commentDelta int64) ([]string, error)

	// DeleteRowsForItem removes the item's rows from every viewer's cache
	// and returns the affected viewer IDs.
	DeleteRowsForItem(ctx context.Context, itemID string) ([]string, error)

	// RowsForItem returns the item's cached rows across all viewers.
	RowsForItem(ctx context.Context, itemID string) ([]models.FeedEntry, error)

	// LastRebuild returns when the viewer's cache was last fully rebuilt,
	// or ErrNotFound if the viewer has no cache.
	LastRebuild(ctx context.Context, viewerID string) (time.Time, error)

	// ListViewers returns every viewer with a materialized cache.
	ListViewers(ctx context.Context) ([]string, error)
}
