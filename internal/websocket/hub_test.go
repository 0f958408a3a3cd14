// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/reelfeed/reelfeed/internal/eventprocessor"
)

// startHub runs the hub and returns a cleanup-registered stop function.
func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("hub did not stop")
		}
	})
	return hub
}

func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestHubNotifiesOnlyTargetedViewer(t *testing.T) {
	hub := startHub(t)

	alice := NewClient(hub, nil, "alice")
	bob := NewClient(hub, nil, "bob")
	hub.Register <- alice
	hub.Register <- bob

	event := eventprocessor.NewFeedEvent(eventprocessor.EventLikeAdded)
	event.ItemID = "clip-1"
	hub.NotifyViewers([]string{"alice"}, event)

	msg := recv(t, alice)
	if msg.Type != MessageTypeFeedEvent {
		t.Errorf("message type = %q, want %q", msg.Type, MessageTypeFeedEvent)
	}

	select {
	case leaked := <-bob.send:
		t.Errorf("bob received a notification meant for alice: %+v", leaked)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubNotifiesEveryConnectionOfViewer(t *testing.T) {
	hub := startHub(t)

	phone := NewClient(hub, nil, "alice")
	tablet := NewClient(hub, nil, "alice")
	hub.Register <- phone
	hub.Register <- tablet

	event := eventprocessor.NewFeedEvent(eventprocessor.EventItemDeleted)
	event.ItemID = "clip-1"
	hub.NotifyViewers([]string{"alice"}, event)

	recv(t, phone)
	recv(t, tablet)
}

func TestHubBroadcastReachesAll(t *testing.T) {
	hub := startHub(t)

	alice := NewClient(hub, nil, "alice")
	bob := NewClient(hub, nil, "bob")
	hub.Register <- alice
	hub.Register <- bob

	hub.BroadcastJSON("announcement", map[string]string{"hello": "world"})

	for _, c := range []*Client{alice, bob} {
		if msg := recv(t, c); msg.Type != "announcement" {
			t.Errorf("message type = %q, want announcement", msg.Type)
		}
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	hub := startHub(t)

	alice := NewClient(hub, nil, "alice")
	hub.Register <- alice

	deadline := time.Now().Add(time.Second)
	for !hub.ViewerConnected("alice") {
		if time.Now().After(deadline) {
			t.Fatal("alice never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Unregister <- alice

	select {
	case _, ok := <-alice.send:
		if ok {
			t.Error("expected closed channel, got a message")
		}
	case <-time.After(time.Second):
		t.Error("send channel was not closed on unregister")
	}

	// The viewer index must not report a phantom connection.
	deadline = time.Now().Add(time.Second)
	for hub.ViewerConnected("alice") {
		if time.Now().After(deadline) {
			t.Fatal("alice still indexed after unregister")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubClientCount(t *testing.T) {
	hub := startHub(t)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount = %d, want 0", got)
	}

	alice := NewClient(hub, nil, "alice")
	hub.Register <- alice

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want 1", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubNotifyUnknownViewerIsNoOp(t *testing.T) {
	hub := startHub(t)

	event := eventprocessor.NewFeedEvent(eventprocessor.EventLikeAdded)
	event.ItemID = "clip-1"
	// Must not panic or block.
	hub.NotifyViewers([]string{"nobody"}, event)
}
