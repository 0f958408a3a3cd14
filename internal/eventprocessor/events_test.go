// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package eventprocessor

import (
	"testing"
	"time"

	"github.com/reelfeed/reelfeed/internal/models"
)

func TestFeedEventTopic(t *testing.T) {
	item := NewFeedEvent(EventLikeAdded)
	item.ItemID = "clip-9"
	if got := item.Topic(); got != "feed.item.clip-9" {
		t.Errorf("Topic() = %q, want feed.item.clip-9", got)
	}

	trust := NewFeedEvent(EventTrustRevoked)
	trust.OwnerID = "owner-1"
	trust.ViewerID = "friend-1"
	if got := trust.Topic(); got != "feed.trust.owner-1.friend-1" {
		t.Errorf("Topic() = %q, want feed.trust.owner-1.friend-1", got)
	}
}

func TestFeedEventValidate(t *testing.T) {
	valid := NewFeedEvent(EventItemCreated)
	valid.ItemID = "clip-1"
	valid.OwnerID = "owner-1"
	valid.ItemCreatedAt = time.Now()
	if err := valid.Validate(); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}

	cases := []struct {
		name  string
		event *FeedEvent
	}{
		{"missing event id", &FeedEvent{Type: EventLikeAdded, ItemID: "clip-1"}},
		{"unknown type", &FeedEvent{EventID: "e1", Type: "bogus", ItemID: "clip-1"}},
		{"counter without item", &FeedEvent{EventID: "e1", Type: EventLikeAdded}},
		{"grant without grantee", &FeedEvent{EventID: "e1", Type: EventGrantCreated, ItemID: "clip-1", GrantKind: models.GrantDirect}},
		{"grant with bad kind", &FeedEvent{EventID: "e1", Type: EventGrantCreated, ItemID: "clip-1", ViewerID: "v1", GrantKind: "friendly"}},
		{"trust without viewer", &FeedEvent{EventID: "e1", Type: EventTrustRevoked, OwnerID: "owner-1"}},
		{"create without timestamp", &FeedEvent{EventID: "e1", Type: EventItemCreated, ItemID: "clip-1", OwnerID: "owner-1"}},
	}
	for _, tc := range cases {
		if err := tc.event.Validate(); err == nil {
			t.Errorf("%s: Validate() accepted an invalid event", tc.name)
		}
	}
}

func TestSerializerRoundTrip(t *testing.T) {
	s := NewSerializer()

	event := NewFeedEvent(EventGrantCreated)
	event.ItemID = "clip-1"
	event.OwnerID = "owner-1"
	event.ViewerID = "friend-1"
	event.GrantKind = models.GrantTrusted

	msg, err := s.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if msg.UUID != event.EventID {
		t.Errorf("message UUID %q must equal event ID %q for deduplication", msg.UUID, event.EventID)
	}
	if got := msg.Metadata.Get("event_type"); got != string(EventGrantCreated) {
		t.Errorf("event_type metadata = %q, want %q", got, EventGrantCreated)
	}

	decoded, err := s.Unmarshal(msg)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.EventID != event.EventID || decoded.Type != event.Type ||
		decoded.ItemID != event.ItemID || decoded.GrantKind != event.GrantKind {
		t.Errorf("round trip mismatch: %+v vs %+v", decoded, event)
	}
}

func TestSerializerRejectsInvalid(t *testing.T) {
	s := NewSerializer()

	if _, err := s.Marshal(&FeedEvent{Type: EventLikeAdded}); err == nil {
		t.Error("Marshal accepted an event without an ID")
	}
}
