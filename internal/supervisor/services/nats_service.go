// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package services

import (
	"context"
	"errors"
	"time"
)

// Broker matches the embedded NATS server lifecycle. The server is started
// by its constructor; the wrapper watches health and shuts it down when the
// supervision context ends.
type Broker interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// ErrBrokerStopped reports that the broker stopped outside of a requested
// shutdown. Returning it makes suture restart the service, but a restarted
// wrapper cannot revive an externally constructed server, so the tree's
// backoff escalates the failure instead of flapping.
var ErrBrokerStopped = errors.New("embedded broker stopped unexpectedly")

// BrokerService supervises an already-running embedded NATS server.
type BrokerService struct {
	broker          Broker
	checkInterval   time.Duration
	shutdownTimeout time.Duration
}

// NewBrokerService wraps the broker with a health probe interval.
func NewBrokerService(broker Broker, shutdownTimeout time.Duration) *BrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &BrokerService{
		broker:          broker,
		checkInterval:   5 * time.Second,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service.
func (s *BrokerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.broker.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			if !s.broker.IsRunning() {
				return ErrBrokerStopped
			}
		}
	}
}

// String implements fmt.Stringer for suture's log messages.
func (s *BrokerService) String() string {
	return "embedded-nats"
}
