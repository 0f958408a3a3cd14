// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

// Package client implements the client-side feed projection: the ordered
// entry list mirroring loaded pages, plus optimistic like edits that merge
// with server-pushed reconciliation events. Pure in-memory state machine,
// no network.
package client

import (
	"errors"
	"sync"
	"time"

	"github.com/reelfeed/reelfeed/internal/eventprocessor"
	"github.com/reelfeed/reelfeed/internal/models"
)

// Action is a user-initiated optimistic edit.
type Action string

// Optimistic edit actions.
const (
	ActionLike   Action = "like"
	ActionUnlike Action = "unlike"
)

// Errors surfaced by the projection.
var (
	// ErrUnknownItem means the item is not in any loaded page.
	ErrUnknownItem = errors.New("client: item not in projection")
	// ErrEditPending means the same edit is already awaiting confirmation.
	ErrEditPending = errors.New("client: edit already pending")
)

type pendingKey struct {
	itemID string
	action Action
}

type pendingEdit struct {
	appliedAt time.Time
	likeDelta int64
}

// ExpiredEdit reports an optimistic edit that timed out and was rolled back.
type ExpiredEdit struct {
	ItemID string
	Action Action
}

// Projection mirrors the concatenation of loaded feed pages for one viewer.
//
// Entries hold the server's authoritative counters; displayed counts are
// derived by folding in pending optimistic deltas at read time, so rollback
// is just dropping the pending edit. While an edit on an item's like field
// is pending, server counter merges for that field are suppressed: the
// pushed event is usually the echo of our own edit, and merging it would
// flicker the count.
type Projection struct {
	mu      sync.Mutex
	entries []models.FeedEntry
	index   map[string]int
	pending map[pendingKey]pendingEdit

	// needsRefresh is set when a visibility event arrives that cannot be
	// patched locally (the projection has no classifier or scorer state).
	needsRefresh bool

	timeout time.Duration
	now     func() time.Time
}

// NewProjection creates an empty projection. timeout bounds how long an
// optimistic edit may stay pending before it is treated as failed.
func NewProjection(timeout time.Duration) *Projection {
	return &Projection{
		index:   make(map[string]int),
		pending: make(map[pendingKey]pendingEdit),
		timeout: timeout,
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook.
func (p *Projection) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// LoadPage appends a fetched page. Entries already present are replaced in
// place with the fresher server state; order of the existing list is kept.
func (p *Projection) LoadPage(page *models.FeedPage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range page.Entries {
		if i, ok := p.index[entry.ItemID]; ok {
			p.entries[i] = entry
			continue
		}
		p.index[entry.ItemID] = len(p.entries)
		p.entries = append(p.entries, entry)
	}
}

// Reset clears all loaded pages and pending edits, for a full refetch.
func (p *Projection) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
	p.index = make(map[string]int)
	p.pending = make(map[pendingKey]pendingEdit)
	p.needsRefresh = false
}

// Entries returns the projected list with pending optimistic deltas folded
// into the displayed counters.
func (p *Projection) Entries() []models.FeedEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.FeedEntry, len(p.entries))
	copy(out, p.entries)
	for i := range out {
		out[i].LikeCount = clampNonNegative(out[i].LikeCount + p.pendingLikeDeltaLocked(out[i].ItemID))
	}
	return out
}

// Entry returns the projected entry for one item.
func (p *Projection) Entry(itemID string) (models.FeedEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[itemID]
	if !ok {
		return models.FeedEntry{}, false
	}
	entry := p.entries[i]
	entry.LikeCount = clampNonNegative(entry.LikeCount + p.pendingLikeDeltaLocked(itemID))
	return entry, true
}

// ApplyLocalLike optimistically increments the item's like count and records
// the pending edit.
func (p *Projection) ApplyLocalLike(itemID string) error {
	return p.applyLocal(itemID, ActionLike, 1)
}

// ApplyLocalUnlike optimistically decrements the item's like count and
// records the pending edit.
func (p *Projection) ApplyLocalUnlike(itemID string) error {
	return p.applyLocal(itemID, ActionUnlike, -1)
}

func (p *Projection) applyLocal(itemID string, action Action, delta int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.index[itemID]; !ok {
		return ErrUnknownItem
	}
	key := pendingKey{itemID: itemID, action: action}
	if _, ok := p.pending[key]; ok {
		return ErrEditPending
	}
	p.pending[key] = pendingEdit{appliedAt: p.now(), likeDelta: delta}
	return nil
}

// ResolvePending settles an optimistic edit. confirmed folds the delta into
// the authoritative counter; rejected simply drops the edit, reverting the
// displayed count. Resolving an unknown edit is a no-op.
func (p *Projection) ResolvePending(itemID string, action Action, confirmed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pendingKey{itemID: itemID, action: action}
	edit, ok := p.pending[key]
	if !ok {
		return
	}
	delete(p.pending, key)

	if !confirmed {
		return
	}
	if i, ok := p.index[itemID]; ok {
		p.entries[i].LikeCount = clampNonNegative(p.entries[i].LikeCount + edit.likeDelta)
	}
}

// ExpirePending rolls back every edit that has been pending longer than the
// timeout and returns them so the caller can surface an error.
func (p *Projection) ExpirePending() []ExpiredEdit {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var expired []ExpiredEdit
	for key, edit := range p.pending {
		if now.Sub(edit.appliedAt) > p.timeout {
			delete(p.pending, key)
			expired = append(expired, ExpiredEdit{ItemID: key.itemID, Action: key.action})
		}
	}
	return expired
}

// PendingCount returns the number of unresolved optimistic edits.
func (p *Projection) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ApplyServerEvent merges a pushed reconciliation event into the projection.
//
// Counter events for items with a pending like edit are suppressed; the
// event is usually the echo of that edit and resolution folds it in.
// Visibility events cannot be patched without classifier state, so they set
// the refresh flag instead.
func (p *Projection) ApplyServerEvent(event *eventprocessor.FeedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Type {
	case eventprocessor.EventItemDeleted:
		p.removeLocked(event.ItemID)

	case eventprocessor.EventLikeAdded, eventprocessor.EventLikeRemoved:
		if p.hasPendingLikeEditLocked(event.ItemID) {
			return
		}
		p.mergeCountersLocked(event)

	case eventprocessor.EventCommentAdded, eventprocessor.EventCommentRemoved:
		p.mergeCountersLocked(event)

	case eventprocessor.EventItemCreated, eventprocessor.EventGrantCreated,
		eventprocessor.EventGrantRevoked, eventprocessor.EventTrustRevoked:
		p.needsRefresh = true
	}
}

// NeedsRefresh reports whether a visibility change arrived that requires a
// page refetch.
func (p *Projection) NeedsRefresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.needsRefresh
}

// Len returns the number of projected entries.
func (p *Projection) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Projection) mergeCountersLocked(event *eventprocessor.FeedEvent) {
	i, ok := p.index[event.ItemID]
	if !ok {
		return
	}
	likeDelta, commentDelta := event.CounterDeltas()
	p.entries[i].LikeCount = clampNonNegative(p.entries[i].LikeCount + likeDelta)
	p.entries[i].CommentCount = clampNonNegative(p.entries[i].CommentCount + commentDelta)
}

func (p *Projection) removeLocked(itemID string) {
	i, ok := p.index[itemID]
	if !ok {
		return
	}
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	delete(p.index, itemID)
	for id, j := range p.index {
		if j > i {
			p.index[id] = j - 1
		}
	}
	for key := range p.pending {
		if key.itemID == itemID {
			delete(p.pending, key)
		}
	}
}

func (p *Projection) pendingLikeDeltaLocked(itemID string) int64 {
	var delta int64
	for key, edit := range p.pending {
		if key.itemID == itemID {
			delta += edit.likeDelta
		}
	}
	return delta
}

func (p *Projection) hasPendingLikeEditLocked(itemID string) bool {
	_, like := p.pending[pendingKey{itemID: itemID, action: ActionLike}]
	_, unlike := p.pending[pendingKey{itemID: itemID, action: ActionUnlike}]
	return like || unlike
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
