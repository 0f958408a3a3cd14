// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package eventprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
)

// Router wraps the Watermill router with the middleware stack the
// reconciler needs: panic recovery, retry with backoff and a poison queue
// for events that keep failing.
type Router struct {
	router   *message.Router
	config   RouterConfig
	logger   watermill.LoggerAdapter
	handlers map[string]*message.Handler
}

// NewRouter creates a message router. poisonPublisher receives messages
// that exhausted their retries; nil disables the poison queue.
//
// Middleware order, outer to inner: Recoverer, Retry, PoisonQueue.
func NewRouter(cfg RouterConfig, poisonPublisher message.Publisher) (*Router, error) {
	logger := NewWatermillLogger()

	wmRouter, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	r := &Router{
		router:   wmRouter,
		config:   cfg,
		logger:   logger,
		handlers: make(map[string]*message.Handler),
	}

	wmRouter.AddPlugin(plugin.SignalsHandler)
	wmRouter.AddMiddleware(middleware.Recoverer)

	retryMiddleware := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      2.0,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retryMiddleware.Middleware)

	if poisonPublisher != nil && cfg.PoisonTopic != "" {
		poisonQueue, err := middleware.PoisonQueue(poisonPublisher, cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poisonQueue)
	}

	return r, nil
}

// AddConsumerHandler registers a handler that consumes without producing
// output messages. Handler errors trigger retries; exhausted retries route
// to the poison queue.
func (r *Router) AddConsumerHandler(
	name string,
	subscribeTopic string,
	subscriber message.Subscriber,
	handler message.NoPublishHandlerFunc,
) *message.Handler {
	h := r.router.AddConsumerHandler(name, subscribeTopic, subscriber, handler)
	r.handlers[name] = h
	return h
}

// Run starts the router and blocks until the context is canceled or Close
// is called.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel that closes once all handlers are up.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// WaitForRunning blocks until the router is running or the timeout expires.
func (r *Router) WaitForRunning(timeout time.Duration) error {
	select {
	case <-r.router.Running():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("router not running after %s", timeout)
	}
}

// Close shuts the router down, waiting up to CloseTimeout for in-flight
// handlers.
func (r *Router) Close() error {
	return r.router.Close()
}
