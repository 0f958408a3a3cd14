// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

// Package feed implements the ranking core of the service: relationship
// classification, scoring, the per-viewer cache refresher and the paginated
// feed reader.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/reelfeed/reelfeed/internal/models"
	"github.com/reelfeed/reelfeed/internal/store"
)

// BestClass returns the highest-priority relationship class between the
// viewer and the item, given the viewer's grants on that item. Grants for
// other items are ignored; revoked grants never contribute.
//
// The priority order is OWN > DIRECT_SHARE > TRUSTED_SHARE > PUBLIC. A pair
// qualifying for several classes always resolves to the highest one, so a
// revocation of a lower class can never hide an item a higher class still
// justifies.
func BestClass(viewerID string, item *models.Item, grants []*models.SharingGrant) models.RelationshipClass {
	if item == nil || item.Deleted {
		return models.ClassAbsent
	}
	if item.OwnerID == viewerID {
		return models.ClassOwn
	}

	best := models.ClassAbsent
	if item.Public {
		best = models.ClassPublic
	}
	for _, grant := range grants {
		if grant.ItemID != item.ID || grant.GranteeID != viewerID || !grant.Active() {
			continue
		}
		if class := grant.Kind.Class(); class.Weight() > best.Weight() {
			best = class
		}
	}
	return best
}

// Classifier resolves the relationship class between a viewer and an item
// from the backing stores.
//
// publicWindow bounds how far back PUBLIC visibility reaches, mirroring the
// public-item cutoff the bulk rebuild applies when it enumerates candidates.
// Ownership and grants are not windowed; only pairs whose sole justification
// is PUBLIC fall out once the item ages past the window.
type Classifier struct {
	items        store.ItemStore
	grants       store.GrantStore
	publicWindow time.Duration

	nowFunc func() time.Time
}

// NewClassifier creates a classifier over the given stores. A zero or
// negative publicWindow leaves PUBLIC visibility unbounded.
func NewClassifier(items store.ItemStore, grants store.GrantStore, publicWindow time.Duration) *Classifier {
	return &Classifier{
		items:        items,
		grants:       grants,
		publicWindow: publicWindow,
		nowFunc:      time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook.
func (c *Classifier) SetNowFunc(now func() time.Time) {
	c.nowFunc = now
}

// Classify returns the current relationship class for (viewer, item) and the
// item record it was derived from. A missing or deleted item yields
// ClassAbsent and a nil item without error; classification answers "is this
// visible", and an absent item simply is not. A public item older than the
// recency window with no other justification classifies ClassAbsent too.
func (c *Classifier) Classify(ctx context.Context, viewerID, itemID string) (models.RelationshipClass, *models.Item, error) {
	item, err := c.items.GetItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return models.ClassAbsent, nil, nil
	}
	if err != nil {
		return models.ClassAbsent, nil, err
	}
	if item.Deleted {
		return models.ClassAbsent, nil, nil
	}
	if item.OwnerID == viewerID {
		return models.ClassOwn, item, nil
	}

	grants, err := c.grants.ListGrantsForItem(ctx, viewerID, itemID)
	if err != nil {
		return models.ClassAbsent, nil, err
	}

	class := BestClass(viewerID, item, grants)
	if class == models.ClassPublic && c.publicWindow > 0 &&
		item.CreatedAt.Before(c.nowFunc().Add(-c.publicWindow)) {
		class = models.ClassAbsent
	}
	if class == models.ClassAbsent {
		return models.ClassAbsent, nil, nil
	}
	return class, item, nil
}
