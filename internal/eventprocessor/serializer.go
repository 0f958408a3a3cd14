// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package eventprocessor

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
)

// Serializer converts feed events to and from Watermill messages.
type Serializer struct{}

// NewSerializer creates a serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal serializes an event into a Watermill message. The message UUID is
// the event ID so JetStream deduplication sees retries of the same event as
// duplicates.
func (s *Serializer) Marshal(event *FeedEvent) (*message.Message, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	msg := message.NewMessage(event.EventID, payload)
	msg.Metadata.Set("event_type", string(event.Type))
	return msg, nil
}

// Unmarshal deserializes a Watermill message back into a feed event.
func (s *Serializer) Unmarshal(msg *message.Message) (*FeedEvent, error) {
	var event FeedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal message %s: %w", msg.UUID, err)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("message %s: %w", msg.UUID, err)
	}
	return &event, nil
}
