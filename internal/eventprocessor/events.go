// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

// Package eventprocessor implements the mutation event pipeline: publishing
// feed mutation events to NATS JetStream, consuming them through a Watermill
// router and reconciling them into the materialized feed caches.
package eventprocessor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reelfeed/reelfeed/internal/models"
)

// CurrentSchemaVersion is the event schema version written by this build.
const CurrentSchemaVersion = 1

// EventType identifies a feed mutation event.
type EventType string

// Event types for NATS subjects.
const (
	// EventItemCreated indicates a new shareable item exists.
	EventItemCreated EventType = "item_created"
	// EventItemDeleted indicates an item was removed by its owner.
	EventItemDeleted EventType = "item_deleted"
	// EventGrantCreated indicates a new sharing grant.
	EventGrantCreated EventType = "grant_created"
	// EventGrantRevoked indicates a single sharing grant was revoked.
	EventGrantRevoked EventType = "grant_revoked"
	// EventLikeAdded indicates a like was added to an item.
	EventLikeAdded EventType = "like_added"
	// EventLikeRemoved indicates a like was removed from an item.
	EventLikeRemoved EventType = "like_removed"
	// EventCommentAdded indicates a comment was added to an item.
	EventCommentAdded EventType = "comment_added"
	// EventCommentRemoved indicates a comment was removed from an item.
	EventCommentRemoved EventType = "comment_removed"
	// EventTrustRevoked indicates an owner removed a viewer from their
	// trusted network, revoking every trusted grant between the two.
	EventTrustRevoked EventType = "trust_revoked"
)

// Valid reports whether the event type is known.
func (t EventType) Valid() bool {
	switch t {
	case EventItemCreated, EventItemDeleted,
		EventGrantCreated, EventGrantRevoked,
		EventLikeAdded, EventLikeRemoved,
		EventCommentAdded, EventCommentRemoved,
		EventTrustRevoked:
		return true
	}
	return false
}

// FeedEvent is one mutation to reconcile into the feed caches.
//
// Field usage varies by type:
//   - item events carry ItemID, OwnerID, Public and ItemCreatedAt
//   - grant events carry ItemID, OwnerID, ViewerID (the grantee) and GrantKind
//   - counter events carry ItemID only
//   - trust_revoked carries OwnerID and ViewerID, no ItemID
type FeedEvent struct {
	EventID       string           `json:"event_id"`
	Type          EventType        `json:"type"`
	ItemID        string           `json:"item_id,omitempty"`
	OwnerID       string           `json:"owner_id,omitempty"`
	ViewerID      string           `json:"viewer_id,omitempty"`
	GrantKind     models.GrantKind `json:"grant_kind,omitempty"`
	Public        bool             `json:"public,omitempty"`
	ItemCreatedAt time.Time        `json:"item_created_at,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
	SchemaVersion int              `json:"schema_version"`
}

// NewFeedEvent creates an event with a fresh ID, current timestamp and
// current schema version.
func NewFeedEvent(t EventType) *FeedEvent {
	return &FeedEvent{
		EventID:       uuid.New().String(),
		Type:          t,
		OccurredAt:    time.Now().UTC(),
		SchemaVersion: CurrentSchemaVersion,
	}
}

// Topic returns the NATS subject for the event.
//
// Item-scoped events share a per-item subject so JetStream preserves their
// relative order; trust revocations are scoped to the (owner, viewer) pair
// instead since they span many items.
func (e *FeedEvent) Topic() string {
	if e.Type == EventTrustRevoked {
		return "feed.trust." + e.OwnerID + "." + e.ViewerID
	}
	return "feed.item." + e.ItemID
}

// Validate checks that the event carries the fields its type requires.
func (e *FeedEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event missing event_id")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}

	switch e.Type {
	case EventTrustRevoked:
		if e.OwnerID == "" || e.ViewerID == "" {
			return fmt.Errorf("%s requires owner_id and viewer_id", e.Type)
		}
	case EventGrantCreated, EventGrantRevoked:
		if e.ItemID == "" || e.ViewerID == "" {
			return fmt.Errorf("%s requires item_id and viewer_id", e.Type)
		}
		if e.GrantKind != models.GrantDirect && e.GrantKind != models.GrantTrusted {
			return fmt.Errorf("%s has invalid grant kind %q", e.Type, e.GrantKind)
		}
	case EventItemCreated:
		if e.ItemID == "" || e.OwnerID == "" {
			return fmt.Errorf("%s requires item_id and owner_id", e.Type)
		}
		if e.ItemCreatedAt.IsZero() {
			return fmt.Errorf("%s requires item_created_at", e.Type)
		}
	default:
		if e.ItemID == "" {
			return fmt.Errorf("%s requires item_id", e.Type)
		}
	}
	return nil
}

// CounterDeltas returns the like and comment deltas a counter event implies,
// or (0, 0) for non-counter events.
func (e *FeedEvent) CounterDeltas() (likeDelta, commentDelta int64) {
	switch e.Type {
	case EventLikeAdded:
		return 1, 0
	case EventLikeRemoved:
		return -1, 0
	case EventCommentAdded:
		return 0, 1
	case EventCommentRemoved:
		return 0, -1
	}
	return 0, 0
}
