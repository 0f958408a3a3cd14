// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package services

import (
	"context"
	"fmt"
)

// MessageRouter matches the event router's run loop. Run blocks until the
// context is canceled.
type MessageRouter interface {
	Run(ctx context.Context) error
}

// RouterService runs the reconciliation event router under supervision. A
// router crash restarts consumption; JetStream redelivers anything that was
// in flight.
type RouterService struct {
	router MessageRouter
}

// NewRouterService wraps the router.
func NewRouterService(router MessageRouter) *RouterService {
	return &RouterService{router: router}
}

// Serve implements suture.Service.
func (s *RouterService) Serve(ctx context.Context) error {
	if err := s.router.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event router failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (s *RouterService) String() string {
	return "event-router"
}
