// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package feed

import (
	"encoding/base64"
	"errors"

	"github.com/goccy/go-json"

	"github.com/reelfeed/reelfeed/internal/store"
)

// ErrBadCursor is returned when a cursor cannot be decoded. Cursors referring
// to rows that no longer exist are NOT an error; pagination resumes at the
// next surviving row.
var ErrBadCursor = errors.New("feed: malformed cursor")

// EncodeCursor serializes a row position into an opaque URL-safe token.
// Clients must treat the token as a black box.
func EncodeCursor(pos store.RowPosition) string {
	data, _ := json.Marshal(pos)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(token string) (store.RowPosition, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return store.RowPosition{}, ErrBadCursor
	}
	var pos store.RowPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return store.RowPosition{}, ErrBadCursor
	}
	if pos.ItemID == "" {
		return store.RowPosition{}, ErrBadCursor
	}
	return pos, nil
}
