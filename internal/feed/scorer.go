// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package feed

import (
	"time"

	"github.com/reelfeed/reelfeed/internal/models"
)

// Scoring combines the relationship class with creation recency, and nothing
// else. Counters deliberately play no part: a like or comment must never move
// a row, or pagination cursors would tear.
//
// The score is computed as
//
//	score = weight(class) * recencySpan + clamp(createdAt - scoreEpoch, 0, recencySpan-1)
//
// recencySpan is wide enough (2^32 seconds, about 136 years) that the recency
// term can never cross into the next class band. Within a band, newer items
// score strictly higher; the deterministic tiebreak for identical timestamps
// is the item ID, applied at the storage layer.

// scoreEpoch anchors the recency term. Items created before it (there are
// none) clamp to zero.
var scoreEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// recencySpan is the width of one class band in score units.
const recencySpan int64 = 1 << 32

// Score computes the rank score for an item seen under the given class.
func Score(class models.RelationshipClass, createdAt time.Time) int64 {
	recency := createdAt.Unix() - scoreEpoch.Unix()
	if recency < 0 {
		recency = 0
	}
	if recency > recencySpan-1 {
		recency = recencySpan - 1
	}
	return class.Weight()*recencySpan + recency
}

// NewEntry builds a feed cache row for (viewer, item) under the given class,
// snapshotting the item's counters.
func NewEntry(viewerID string, item *models.Item, class models.RelationshipClass, now time.Time) models.FeedEntry {
	return models.FeedEntry{
		ViewerID:     viewerID,
		ItemID:       item.ID,
		Class:        class,
		Score:        Score(class, item.CreatedAt),
		InsertedAt:   now,
		ItemOwnerID:  item.OwnerID,
		CreatedAt:    item.CreatedAt,
		LikeCount:    item.LikeCount,
		CommentCount: item.CommentCount,
	}
}
