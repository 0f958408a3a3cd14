// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

// Package websocket pushes feed change notifications to connected viewers.
// Notifications are advisory: they tell the client its projection may be
// stale, the feed itself is always fetched over the HTTP API.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/reelfeed/reelfeed/internal/eventprocessor"
	"github.com/reelfeed/reelfeed/internal/logging"
	"github.com/reelfeed/reelfeed/internal/metrics"
)

// Message types for WebSocket communication.
const (
	MessageTypeFeedEvent = "feed_event"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
)

// Message represents a WebSocket message.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// notification targets a set of viewers instead of everyone.
type notification struct {
	viewerIDs []string
	message   Message
}

// Hub maintains the set of connected clients indexed by viewer and routes
// notifications to them. It implements eventprocessor.Notifier.
type Hub struct {
	clients map[*Client]bool
	// viewers indexes clients by viewer ID; one viewer may hold several
	// connections (phone and tablet).
	viewers map[string]map[*Client]bool

	broadcast chan Message
	notify    chan notification

	Register   chan *Client
	Unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		viewers:    make(map[string]map[*Client]bool),
		broadcast:  make(chan Message, 256),
		notify:     make(chan notification, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// RunWithContext runs the hub until the context is canceled. Designed for
// suture supervision: on cancellation every client is closed and ctx.Err()
// is returned, so a restart never inherits orphaned connections.
//
// DETERMINISM: lifecycle events are drained before notifications so client
// state is consistent when a notification fans out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case n := <-h.notify:
			h.deliver(n)

		case message := <-h.broadcast:
			h.deliverAll(message)
		}
	}
}

// NotifyViewers queues a feed event notification for the given viewers.
// Implements eventprocessor.Notifier. Never blocks the reconciler: when the
// queue is full the notification is dropped, the client's next poll or
// refresh covers it.
func (h *Hub) NotifyViewers(viewerIDs []string, event *eventprocessor.FeedEvent) {
	n := notification{
		viewerIDs: viewerIDs,
		message:   Message{Type: MessageTypeFeedEvent, Data: event},
	}
	select {
	case h.notify <- n:
	default:
		logging.Warn().
			Int("viewers", len(viewerIDs)).
			Str("event_type", string(event.Type)).
			Msg("notification queue full, dropping feed event")
	}
}

// BroadcastJSON queues a message for every connected client.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	message := Message{Type: messageType, Data: data}
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ViewerConnected reports whether the viewer has at least one connection.
func (h *Hub) ViewerConnected(viewerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers[viewerID]) > 0
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	set, ok := h.viewers[client.viewerID]
	if !ok {
		set = make(map[*Client]bool)
		h.viewers[client.viewerID] = set
	}
	set[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	logging.Info().
		Str("viewer_id", client.viewerID).
		Int("total_clients", total).
		Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		if set, ok := h.viewers[client.viewerID]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(h.viewers, client.viewerID)
			}
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	logging.Info().
		Str("viewer_id", client.viewerID).
		Int("total_clients", total).
		Msg("websocket client disconnected")
}

// deliver sends a notification to every connection of the targeted viewers.
// DETERMINISM: clients are sorted by ID so delivery order is stable.
func (h *Hub) deliver(n notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var targets []*Client
	for _, viewerID := range n.viewerIDs {
		for client := range h.viewers[viewerID] {
			targets = append(targets, client)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	var toRemove []*Client
	for _, client := range targets {
		select {
		case client.send <- n.message:
			metrics.WebSocketNotificationsTotal.Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}
	h.dropLocked(toRemove)
}

// deliverAll sends a message to every connected client in ID order.
func (h *Hub) deliverAll(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	h.dropLocked(toRemove)
}

// dropLocked removes clients whose send buffer is full. Caller holds h.mu.
func (h *Hub) dropLocked(toRemove []*Client) {
	for _, client := range toRemove {
		if _, ok := h.clients[client]; !ok {
			continue
		}
		close(client.send)
		delete(h.clients, client)
		if set, ok := h.viewers[client.viewerID]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(h.viewers, client.viewerID)
			}
		}
	}
}

// shutdown closes all clients and logs the reason. Context cancellation is
// expected behavior, it is not logged as an error.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.viewers = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(0)

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}
