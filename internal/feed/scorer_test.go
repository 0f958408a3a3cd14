// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package feed

import (
	"testing"
	"time"

	"github.com/reelfeed/reelfeed/internal/models"
)

func TestScoreClassBandsNeverInterleave(t *testing.T) {
	// The newest conceivable item in a lower class must still score below
	// the oldest item in the next class up.
	newest := time.Now().Add(100 * 365 * 24 * time.Hour)
	oldest := scoreEpoch.Add(-time.Hour)

	ordered := []models.RelationshipClass{
		models.ClassPublic,
		models.ClassTrustedShare,
		models.ClassDirectShare,
		models.ClassOwn,
	}
	for i := 0; i < len(ordered)-1; i++ {
		lower, higher := ordered[i], ordered[i+1]
		if Score(lower, newest) >= Score(higher, oldest) {
			t.Errorf("newest %s item (%d) outranks oldest %s item (%d)",
				lower, Score(lower, newest), higher, Score(higher, oldest))
		}
	}
}

func TestScoreNewerWinsWithinClass(t *testing.T) {
	older := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Second)

	if Score(models.ClassPublic, newer) <= Score(models.ClassPublic, older) {
		t.Error("newer item must score strictly higher within the same class")
	}
}

func TestScoreClampsBeforeEpoch(t *testing.T) {
	ancient := scoreEpoch.Add(-24 * time.Hour)
	atEpoch := scoreEpoch

	if Score(models.ClassPublic, ancient) != Score(models.ClassPublic, atEpoch) {
		t.Error("pre-epoch timestamps should clamp to the epoch score")
	}
	if Score(models.ClassPublic, ancient) < 0 {
		t.Error("scores must be non-negative")
	}
}

func TestScoreDeterministic(t *testing.T) {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	a := Score(models.ClassDirectShare, at)
	b := Score(models.ClassDirectShare, at)
	if a != b {
		t.Errorf("same inputs produced different scores: %d vs %d", a, b)
	}
}

func TestNewEntrySnapshotsCounters(t *testing.T) {
	item := &models.Item{
		ID:           "i1",
		OwnerID:      "owner-1",
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		LikeCount:    7,
		CommentCount: 3,
	}
	now := time.Now()

	entry := NewEntry("v1", item, models.ClassDirectShare, now)
	if entry.LikeCount != 7 || entry.CommentCount != 3 {
		t.Errorf("counters = %d/%d, want 7/3", entry.LikeCount, entry.CommentCount)
	}
	if entry.Score != Score(models.ClassDirectShare, item.CreatedAt) {
		t.Error("entry score must come from class and creation time only")
	}

	// Counters must not feed into the score.
	item.LikeCount = 1000000
	boosted := NewEntry("v1", item, models.ClassDirectShare, now)
	if boosted.Score != entry.Score {
		t.Error("like count changed the score")
	}
}
