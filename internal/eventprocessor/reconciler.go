// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/reelfeed/reelfeed/internal/feed"
	"github.com/reelfeed/reelfeed/internal/logging"
	"github.com/reelfeed/reelfeed/internal/metrics"
	"github.com/reelfeed/reelfeed/internal/models"
	"github.com/reelfeed/reelfeed/internal/store"
)

// Notifier pushes reconciled events to connected viewers. The websocket hub
// implements it; a nil notifier disables pushes.
type Notifier interface {
	NotifyViewers(viewerIDs []string, event *FeedEvent)
}

// Reconciler applies feed mutation events to the materialized caches.
//
// It maintains rows only for viewers that already hold a cache; a viewer
// without one gets a complete snapshot from the next cold rebuild, so there
// is nothing to patch. Every handler is idempotent: JetStream redeliveries
// and duplicate events converge to the same cache state.
type Reconciler struct {
	items      store.ItemStore
	grants     store.GrantStore
	feed       store.FeedStore
	classifier *feed.Classifier
	serializer *Serializer
	notifier   Notifier

	nowFunc func() time.Time
}

// ReconcilerConfig carries the classification tunables the incremental path
// shares with the bulk rebuild.
type ReconcilerConfig struct {
	// PublicRecencyWindow bounds PUBLIC visibility by item age, matching
	// the cutoff the refresher applies when it enumerates public items.
	// Zero leaves it unbounded.
	PublicRecencyWindow time.Duration
}

// NewReconciler creates a reconciler over the given stores. notifier may be
// nil.
func NewReconciler(items store.ItemStore, grants store.GrantStore, feedStore store.FeedStore, notifier Notifier, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		items:      items,
		grants:     grants,
		feed:       feedStore,
		classifier: feed.NewClassifier(items, grants, cfg.PublicRecencyWindow),
		serializer: NewSerializer(),
		notifier:   notifier,
		nowFunc:    time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook.
func (r *Reconciler) SetNowFunc(now func() time.Time) {
	r.nowFunc = now
	r.classifier.SetNowFunc(now)
}

// HandleMessage is the router entry point. Malformed messages are dropped
// with a log line rather than retried; they can never become valid.
func (r *Reconciler) HandleMessage(msg *message.Message) error {
	event, err := r.serializer.Unmarshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("message_id", msg.UUID).Msg("Dropping malformed event")
		metrics.ReconcilerEventsTotal.WithLabelValues("malformed", "dropped").Inc()
		return nil
	}
	return r.Apply(msg.Context(), event)
}

// Apply reconciles one event into the feed caches. Errors are retryable:
// the router redelivers until the poison queue takes over.
func (r *Reconciler) Apply(ctx context.Context, event *FeedEvent) error {
	var (
		affected []string
		outcome  string
		err      error
	)

	switch event.Type {
	case EventItemCreated:
		affected, outcome, err = r.applyItemCreated(ctx, event)
	case EventItemDeleted:
		affected, outcome, err = r.applyItemDeleted(ctx, event)
	case EventGrantCreated:
		affected, outcome, err = r.applyGrantCreated(ctx, event)
	case EventGrantRevoked:
		affected, outcome, err = r.applyGrantRevoked(ctx, event)
	case EventTrustRevoked:
		affected, outcome, err = r.applyTrustRevoked(ctx, event)
	case EventLikeAdded, EventLikeRemoved, EventCommentAdded, EventCommentRemoved:
		affected, outcome, err = r.applyCounterEvent(ctx, event)
	default:
		outcome = "noop"
		logging.Warn().Str("type", string(event.Type)).Msg("Ignoring event of unknown type")
	}

	if err != nil {
		metrics.ReconcilerEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		return fmt.Errorf("reconcile %s event %s: %w", event.Type, event.EventID, err)
	}

	metrics.ReconcilerEventsTotal.WithLabelValues(string(event.Type), outcome).Inc()
	logging.Debug().
		Str("event_id", event.EventID).
		Str("type", string(event.Type)).
		Str("item_id", event.ItemID).
		Int("affected_viewers", len(affected)).
		Msg("Reconciled event")

	if r.notifier != nil && len(affected) > 0 {
		r.notifier.NotifyViewers(affected, event)
	}
	return nil
}

// applyItemCreated records the item if this node has not seen it yet, then
// inserts rows for every cached viewer the item is visible to.
func (r *Reconciler) applyItemCreated(ctx context.Context, event *FeedEvent) ([]string, string, error) {
	if _, err := r.items.GetItem(ctx, event.ItemID); errors.Is(err, store.ErrNotFound) {
		item := &models.Item{
			ID:        event.ItemID,
			OwnerID:   event.OwnerID,
			Public:    event.Public,
			CreatedAt: event.ItemCreatedAt,
		}
		if err := r.items.PutItem(ctx, item); err != nil {
			return nil, "", err
		}
	} else if err != nil {
		return nil, "", err
	}

	// A private item can only surface for its owner; a public one must be
	// evaluated against every cached viewer since grants or ownership may
	// rank it above PUBLIC.
	candidates := []string{event.OwnerID}
	if event.Public {
		viewers, err := r.feed.ListViewers(ctx)
		if err != nil {
			return nil, "", err
		}
		candidates = viewers
		if !containsString(viewers, event.OwnerID) {
			candidates = append(candidates, event.OwnerID)
		}
	}

	var affected []string
	for _, viewerID := range candidates {
		changed, err := r.reevaluate(ctx, viewerID, event.ItemID)
		if err != nil {
			return nil, "", err
		}
		if changed {
			affected = append(affected, viewerID)
		}
	}
	return affected, "ok", nil
}

// applyItemDeleted tombstones the item and purges its rows everywhere.
func (r *Reconciler) applyItemDeleted(ctx context.Context, event *FeedEvent) ([]string, string, error) {
	outcome := "ok"
	if err := r.items.DeleteItem(ctx, event.ItemID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, "", err
		}
		// The delete arrived before the create. Record a deleted stub so
		// the late create event finds it and cannot resurrect the item.
		stub := &models.Item{ID: event.ItemID, OwnerID: event.OwnerID, Deleted: true}
		if err := r.items.PutItem(ctx, stub); err != nil {
			return nil, "", err
		}
		outcome = "noop"
	}

	affected, err := r.feed.DeleteRowsForItem(ctx, event.ItemID)
	if err != nil {
		return nil, "", err
	}
	return affected, outcome, nil
}

// applyGrantCreated records the grant and surfaces the item for the grantee.
func (r *Reconciler) applyGrantCreated(ctx context.Context, event *FeedEvent) ([]string, string, error) {
	grant := &models.SharingGrant{
		OwnerID:   event.OwnerID,
		ItemID:    event.ItemID,
		GranteeID: event.ViewerID,
		Kind:      event.GrantKind,
		Status:    models.GrantActive,
		CreatedAt: event.OccurredAt,
	}
	if err := r.grants.PutGrant(ctx, grant); err != nil {
		return nil, "", err
	}

	changed, err := r.reevaluate(ctx, event.ViewerID, event.ItemID)
	if err != nil {
		return nil, "", err
	}
	if !changed {
		return nil, "noop", nil
	}
	return []string{event.ViewerID}, "ok", nil
}

// applyGrantRevoked revokes one grant, then re-derives the grantee's row.
// Revocation downgrades rather than deletes: an item still justified by a
// remaining grant or by PUBLIC stays in the feed at the lower class.
func (r *Reconciler) applyGrantRevoked(ctx context.Context, event *FeedEvent) ([]string, string, error) {
	if err := r.grants.RevokeGrant(ctx, event.ViewerID, event.ItemID, event.GrantKind); err != nil {
		return nil, "", err
	}

	changed, err := r.reevaluate(ctx, event.ViewerID, event.ItemID)
	if err != nil {
		return nil, "", err
	}
	if !changed {
		return nil, "noop", nil
	}
	return []string{event.ViewerID}, "ok", nil
}

// applyTrustRevoked revokes every trusted grant between the pair and
// re-derives each affected row for the former trustee.
func (r *Reconciler) applyTrustRevoked(ctx context.Context, event *FeedEvent) ([]string, string, error) {
	revoked, err := r.grants.RevokeTrustedGrants(ctx, event.OwnerID, event.ViewerID)
	if err != nil {
		return nil, "", err
	}
	if len(revoked) == 0 {
		return nil, "noop", nil
	}

	changed := false
	for _, grant := range revoked {
		rowChanged, err := r.reevaluate(ctx, event.ViewerID, grant.ItemID)
		if err != nil {
			return nil, "", err
		}
		changed = changed || rowChanged
	}
	if !changed {
		return nil, "noop", nil
	}
	return []string{event.ViewerID}, "ok", nil
}

// applyCounterEvent merges a counter delta into the item record and every
// cached row of the item. Scores never move.
func (r *Reconciler) applyCounterEvent(ctx context.Context, event *FeedEvent) ([]string, string, error) {
	likeDelta, commentDelta := event.CounterDeltas()

	if _, err := r.items.UpdateCounters(ctx, event.ItemID, likeDelta, commentDelta); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Counter event for an item this node never saw, or one already
			// deleted. Nothing to merge.
			logging.Debug().Str("item_id", event.ItemID).Msg("Counter event for unknown item")
			return nil, "noop", nil
		}
		return nil, "", err
	}

	affected, err := r.feed.UpdateRowCounters(ctx, event.ItemID, likeDelta, commentDelta)
	if err != nil {
		return nil, "", err
	}
	return affected, "ok", nil
}

// reevaluate re-derives the (viewer, item) row from current item and grant
// state: upsert at the best class when visible, delete when absent. Viewers
// without a materialized cache are skipped; their next rebuild covers it.
// Returns whether the viewer's cache changed.
func (r *Reconciler) reevaluate(ctx context.Context, viewerID, itemID string) (bool, error) {
	if _, err := r.feed.LastRebuild(ctx, viewerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	class, item, err := r.classifier.Classify(ctx, viewerID, itemID)
	if err != nil {
		return false, err
	}

	if class == models.ClassAbsent {
		if _, err := r.feed.GetRow(ctx, viewerID, itemID); errors.Is(err, store.ErrNotFound) {
			return false, nil
		} else if err != nil {
			return false, err
		}
		if err := r.feed.DeleteRow(ctx, viewerID, itemID); err != nil {
			return false, err
		}
		return true, nil
	}

	entry := feed.NewEntry(viewerID, item, class, r.nowFunc())
	if existing, err := r.feed.GetRow(ctx, viewerID, itemID); err == nil {
		if existing.Class == entry.Class && existing.Score == entry.Score {
			return false, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	// PutRow, not UpsertRow: this write is derived from current item and
	// grant state, so it must land even when a recent deletion for the pair
	// left a tombstone. A revoke followed by a re-grant would otherwise
	// report a change and notify without ever writing the row.
	if err := r.feed.PutRow(ctx, &entry); err != nil {
		return false, err
	}
	return true, nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
