// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package services

import (
	"context"
)

// ContextHub matches the websocket hub's run loop.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the websocket hub under supervision. RunWithContext
// already follows the suture contract, so the wrapper only supplies a name.
type HubService struct {
	hub ContextHub
}

// NewHubService wraps the hub.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for suture's log messages.
func (s *HubService) String() string {
	return "websocket-hub"
}
