// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/reelfeed/reelfeed/internal/config"
	"github.com/reelfeed/reelfeed/internal/eventprocessor"
	"github.com/reelfeed/reelfeed/internal/feed"
	"github.com/reelfeed/reelfeed/internal/logging"
	"github.com/reelfeed/reelfeed/internal/metrics"
	"github.com/reelfeed/reelfeed/internal/models"
	"github.com/reelfeed/reelfeed/internal/store"
	"github.com/reelfeed/reelfeed/internal/websocket"
)

// EventPublisher is the slice of the NATS publisher the handlers need.
type EventPublisher interface {
	PublishEvent(event *eventprocessor.FeedEvent) error
}

// Handler carries the dependencies for all HTTP handlers.
//
// Mutation endpoints publish events instead of writing the stores directly:
// the reconciler is the single writer for items, grants and cache rows, so a
// mutation observed over HTTP and the same mutation replayed from the stream
// cannot double-apply.
type Handler struct {
	reader    *feed.Reader
	refresher *feed.Refresher
	items     store.ItemStore
	publisher EventPublisher
	hub       *websocket.Hub
	media     *MediaResolver
	cfg       *config.Config

	// natsReady reports broker health for the readiness endpoint.
	natsReady func() bool

	refreshLimiters sync.Map // viewerID -> *rate.Limiter
}

// NewHandler creates the handler set.
func NewHandler(
	reader *feed.Reader,
	refresher *feed.Refresher,
	items store.ItemStore,
	publisher EventPublisher,
	hub *websocket.Hub,
	media *MediaResolver,
	cfg *config.Config,
	natsReady func() bool,
) *Handler {
	if natsReady == nil {
		natsReady = func() bool { return true }
	}
	return &Handler{
		reader:    reader,
		refresher: refresher,
		items:     items,
		publisher: publisher,
		hub:       hub,
		media:     media,
		cfg:       cfg,
		natsReady: natsReady,
	}
}

// feedEntryPayload is the wire shape of one feed entry.
type feedEntryPayload struct {
	ItemID       string    `json:"item_id"`
	OwnerID      string    `json:"owner_id"`
	Class        string    `json:"relationship_class"`
	CreatedAt    time.Time `json:"created_at"`
	LikeCount    int64     `json:"like_count"`
	CommentCount int64     `json:"comment_count"`
	MediaURL     string    `json:"media_url,omitempty"`
}

// feedPagePayload is the data section of a feed page response.
type feedPagePayload struct {
	Entries []feedEntryPayload `json:"entries"`
	Stale   bool               `json:"stale"`
}

// Feed handles GET /api/v1/feed.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	viewerID := logging.ViewerIDFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			rw.BadRequest("page_size must be a positive integer")
			return
		}
		limit = parsed
	}

	page, err := h.reader.Page(r.Context(), viewerID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, feed.ErrBadCursor) {
			rw.BadRequest("malformed cursor")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg("Feed page failed")
		rw.ServiceUnavailable("feed temporarily unavailable")
		return
	}

	entries := make([]feedEntryPayload, 0, len(page.Entries))
	for _, entry := range page.Entries {
		payload := feedEntryPayload{
			ItemID:       entry.ItemID,
			OwnerID:      entry.ItemOwnerID,
			Class:        string(entry.Class),
			CreatedAt:    entry.CreatedAt,
			LikeCount:    entry.LikeCount,
			CommentCount: entry.CommentCount,
		}
		if h.media != nil {
			payload.MediaURL = h.media.SignedURL(entry.ItemID)
		}
		entries = append(entries, payload)
	}

	rw.SuccessWithPagination(feedPagePayload{Entries: entries, Stale: page.Stale}, &PaginationMeta{
		Count:      len(entries),
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	})
}

// Refresh handles POST /api/v1/feed/refresh. Rate limited per viewer so a
// refresh-spamming client cannot monopolize rebuild capacity.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	viewerID := logging.ViewerIDFromContext(r.Context())

	if !h.refreshLimiter(viewerID).Allow() {
		metrics.RateLimitRejections.Inc()
		rw.TooManyRequests("refresh rate limit exceeded")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Feed.RebuildTimeout)
	defer cancel()
	if err := h.refresher.ForceRebuild(ctx, viewerID); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Explicit refresh failed")
		rw.ServiceUnavailable("feed temporarily unavailable")
		return
	}
	rw.Success(map[string]bool{"rebuilt": true})
}

func (h *Handler) refreshLimiter(viewerID string) *rate.Limiter {
	if limiter, ok := h.refreshLimiters.Load(viewerID); ok {
		return limiter.(*rate.Limiter)
	}
	perSecond := rate.Limit(float64(h.cfg.Feed.RefreshPerMinute) / 60.0)
	limiter, _ := h.refreshLimiters.LoadOrStore(viewerID, rate.NewLimiter(perSecond, 1))
	return limiter.(*rate.Limiter)
}

// createItemRequest is the body of POST /api/v1/items.
type createItemRequest struct {
	ItemID string `json:"item_id,omitempty"`
	Public bool   `json:"public"`
}

// CreateItem handles POST /api/v1/items. The item materializes through the
// event pipeline; the response carries the assigned ID.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	viewerID := logging.ViewerIDFromContext(r.Context())

	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("malformed request body")
		return
	}
	if req.ItemID == "" {
		req.ItemID = uuid.New().String()
	}

	event := eventprocessor.NewFeedEvent(eventprocessor.EventItemCreated)
	event.ItemID = req.ItemID
	event.OwnerID = viewerID
	event.Public = req.Public
	event.ItemCreatedAt = time.Now().UTC()

	if err := h.publishEvent(rw, r, event); err != nil {
		return
	}
	rw.Accepted(map[string]string{"item_id": req.ItemID})
}

// DeleteItem handles DELETE /api/v1/items/{itemID}. Only the owner may
// delete an item.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	viewerID := logging.ViewerIDFromContext(r.Context())
	itemID := chi.URLParam(r, "itemID")

	item, err := h.items.GetItem(r.Context(), itemID)
	if errors.Is(err, store.ErrNotFound) {
		rw.NotFound("item not found")
		return
	}
	if err != nil {
		rw.InternalError("item lookup failed")
		return
	}
	if item.OwnerID != viewerID {
		rw.Forbidden("only the owner may delete an item")
		return
	}

	event := eventprocessor.NewFeedEvent(eventprocessor.EventItemDeleted)
	event.ItemID = itemID
	event.OwnerID = viewerID

	if err := h.publishEvent(rw, r, event); err != nil {
		return
	}
	rw.Accepted(map[string]string{"item_id": itemID})
}

// counterEndpoint publishes one counter event after verifying the item.
func (h *Handler) counterEndpoint(w http.ResponseWriter, r *http.Request, eventType eventprocessor.EventType) {
	rw := NewResponseWriter(w, r)
	itemID := chi.URLParam(r, "itemID")

	if _, err := h.items.GetItem(r.Context(), itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("item not found")
			return
		}
		rw.InternalError("item lookup failed")
		return
	}

	event := eventprocessor.NewFeedEvent(eventType)
	event.ItemID = itemID
	event.ViewerID = logging.ViewerIDFromContext(r.Context())

	if err := h.publishEvent(rw, r, event); err != nil {
		return
	}
	rw.Accepted(map[string]string{"item_id": itemID})
}

// Like handles POST /api/v1/items/{itemID}/like.
func (h *Handler) Like(w http.ResponseWriter, r *http.Request) {
	h.counterEndpoint(w, r, eventprocessor.EventLikeAdded)
}

// Unlike handles DELETE /api/v1/items/{itemID}/like.
func (h *Handler) Unlike(w http.ResponseWriter, r *http.Request) {
	h.counterEndpoint(w, r, eventprocessor.EventLikeRemoved)
}

// AddComment handles POST /api/v1/items/{itemID}/comments.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	h.counterEndpoint(w, r, eventprocessor.EventCommentAdded)
}

// RemoveComment handles DELETE /api/v1/items/{itemID}/comments.
func (h *Handler) RemoveComment(w http.ResponseWriter, r *http.Request) {
	h.counterEndpoint(w, r, eventprocessor.EventCommentRemoved)
}

// grantRequest is the body of grant create and revoke calls.
type grantRequest struct {
	ItemID    string `json:"item_id"`
	GranteeID string `json:"grantee_id"`
	Kind      string `json:"kind"`
}

func (h *Handler) grantEndpoint(w http.ResponseWriter, r *http.Request, eventType eventprocessor.EventType) {
	rw := NewResponseWriter(w, r)
	viewerID := logging.ViewerIDFromContext(r.Context())

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("malformed request body")
		return
	}
	kind := models.GrantKind(req.Kind)
	if kind != models.GrantDirect && kind != models.GrantTrusted {
		rw.ValidationError("kind must be direct or trusted", map[string]string{"kind": req.Kind})
		return
	}
	if req.ItemID == "" || req.GranteeID == "" {
		rw.ValidationError("item_id and grantee_id are required", nil)
		return
	}

	item, err := h.items.GetItem(r.Context(), req.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		rw.NotFound("item not found")
		return
	}
	if err != nil {
		rw.InternalError("item lookup failed")
		return
	}
	if item.OwnerID != viewerID {
		rw.Forbidden("only the owner may manage grants")
		return
	}

	event := eventprocessor.NewFeedEvent(eventType)
	event.ItemID = req.ItemID
	event.OwnerID = viewerID
	event.ViewerID = req.GranteeID
	event.GrantKind = kind

	if err := h.publishEvent(rw, r, event); err != nil {
		return
	}
	rw.Accepted(map[string]string{"item_id": req.ItemID, "grantee_id": req.GranteeID})
}

// CreateGrant handles POST /api/v1/grants.
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	h.grantEndpoint(w, r, eventprocessor.EventGrantCreated)
}

// RevokeGrant handles DELETE /api/v1/grants.
func (h *Handler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	h.grantEndpoint(w, r, eventprocessor.EventGrantRevoked)
}

// RevokeTrust handles DELETE /api/v1/trust/{granteeID}: the calling viewer
// removes the grantee from their trusted network.
func (h *Handler) RevokeTrust(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	viewerID := logging.ViewerIDFromContext(r.Context())
	granteeID := chi.URLParam(r, "granteeID")
	if granteeID == "" {
		rw.BadRequest("grantee id is required")
		return
	}

	event := eventprocessor.NewFeedEvent(eventprocessor.EventTrustRevoked)
	event.OwnerID = viewerID
	event.ViewerID = granteeID

	if err := h.publishEvent(rw, r, event); err != nil {
		return
	}
	rw.Accepted(map[string]string{"grantee_id": granteeID})
}

// MediaURL handles GET /api/v1/media/{itemID}/url.
func (h *Handler) MediaURL(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	itemID := chi.URLParam(r, "itemID")

	if _, err := h.items.GetItem(r.Context(), itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("item not found")
			return
		}
		rw.InternalError("item lookup failed")
		return
	}
	rw.Success(map[string]string{"url": h.media.SignedURL(itemID)})
}

var wsUpgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS middleware; the upgrade itself only
	// happens on authenticated requests.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WebSocket handles GET /api/v1/feed/ws, upgrading to the notification
// stream for the authenticated viewer.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	viewerID := logging.ViewerIDFromContext(r.Context())

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, viewerID)
	h.hub.Register <- client
	client.Start()
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady handles GET /api/v1/health/ready. Ready means the item store
// answers and the event broker is running.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	components := map[string]string{"store": "ok", "nats": "ok"}
	ready := true

	if _, err := h.items.GetItem(r.Context(), "readiness-probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		components["store"] = err.Error()
		ready = false
	}
	if !h.natsReady() {
		components["nats"] = "not running"
		ready = false
	}

	if !ready {
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "not ready", components)
		return
	}
	rw.Success(map[string]interface{}{"status": "ready", "components": components})
}

// publishEvent publishes and writes the 503 on failure. Returns the error so
// callers can stop.
func (h *Handler) publishEvent(rw *ResponseWriter, r *http.Request, event *eventprocessor.FeedEvent) error {
	if err := h.publisher.PublishEvent(event); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("event_type", string(event.Type)).Msg("Event publish failed")
		rw.ServiceUnavailable("mutation could not be accepted")
		return err
	}
	return nil
}
