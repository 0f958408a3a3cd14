// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

// Package main is the entry point for the Reelfeed server.
//
// Reelfeed maintains a per-viewer materialized feed cache for a video
// sharing app. Items are ranked by relationship class (own, shared,
// public) with recency as a tiebreaker, and the cache is kept in sync
// through a JetStream event pipeline with a single reconciler writer.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file and environment (Koanf v2)
//  2. Store: BadgerDB item, grant and feed-row storage with circuit breakers
//  3. Feed: classifier, scorer, refresher and page reader
//  4. NATS: embedded or external JetStream broker, stream provisioning,
//     publisher and the reconciler consumer behind a Watermill router
//  5. WebSocket hub: advisory change notifications to connected viewers
//  6. HTTP server: REST API plus the websocket upgrade endpoint
//
// Everything long-running sits in a suture supervision tree; SIGINT and
// SIGTERM cancel the tree context for graceful shutdown.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file (config.yaml),
// built-in defaults. See internal/config for the full surface.
//
// Minimal development run:
//
//	export AUTH_MODE=header
//	export BADGER_IN_MEMORY=true
//	./reelfeed
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reelfeed/reelfeed/internal/api"
	"github.com/reelfeed/reelfeed/internal/auth"
	"github.com/reelfeed/reelfeed/internal/config"
	"github.com/reelfeed/reelfeed/internal/eventprocessor"
	"github.com/reelfeed/reelfeed/internal/feed"
	"github.com/reelfeed/reelfeed/internal/logging"
	"github.com/reelfeed/reelfeed/internal/store"
	"github.com/reelfeed/reelfeed/internal/supervisor"
	"github.com/reelfeed/reelfeed/internal/supervisor/services"
	ws "github.com/reelfeed/reelfeed/internal/websocket"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		// Default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("store_in_memory", cfg.Store.InMemory).
		Str("auth_mode", cfg.Security.AuthMode).
		Bool("nats_embedded", cfg.NATS.EmbeddedServer).
		Msg("Configuration loaded")

	db, err := store.OpenBadger(cfg.Store.Path, cfg.Store.InMemory)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	breakerCfg := store.DefaultBreakerConfig()
	items := store.NewBreakerItemStore(db, breakerCfg)
	grants := store.NewBreakerGrantStore(db, breakerCfg)

	refresher := feed.NewRefresher(items, grants, db, feed.RefresherConfig{
		StalenessWindow:     cfg.Feed.StalenessWindow,
		PublicRecencyWindow: cfg.Feed.PublicRecencyWindow,
		RetryAttempts:       cfg.Feed.RetryAttempts,
		RetryDelay:          cfg.Feed.RetryDelay,
	})
	reader := feed.NewReader(refresher, db, feed.ReaderConfig{
		DefaultPageSize: cfg.Feed.DefaultPageSize,
		MaxPageSize:     cfg.Feed.MaxPageSize,
		RebuildTimeout:  cfg.Feed.RebuildTimeout,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tree := supervisor.NewTree(supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	hub := ws.NewHub()
	tree.AddMessagingService(services.NewHubService(hub))

	// Broker first: everything downstream needs a URL to connect to.
	natsURL := cfg.NATS.URL
	var broker *eventprocessor.EmbeddedServer
	if cfg.NATS.EmbeddedServer {
		broker, err = eventprocessor.NewEmbeddedServer(eventprocessor.DefaultServerConfig(cfg.NATS.StoreDir))
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		natsURL = broker.ClientURL()
		tree.AddMessagingService(services.NewBrokerService(broker, cfg.Server.ShutdownTimeout))
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	nc, err := nats.Connect(natsURL,
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	streamManager, err := eventprocessor.NewStreamManager(nc, eventprocessor.DefaultStreamConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stream manager")
	}
	if _, err := streamManager.EnsureStream(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision event stream")
	}

	publisher, err := eventprocessor.NewPublisher(eventprocessor.DefaultPublisherConfig(natsURL))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}()

	subscriberCfg := eventprocessor.DefaultSubscriberConfig(natsURL)
	if cfg.NATS.DurableName != "" {
		subscriberCfg.DurableName = cfg.NATS.DurableName
	}
	if cfg.NATS.QueueGroup != "" {
		subscriberCfg.QueueGroup = cfg.NATS.QueueGroup
	}
	if cfg.NATS.SubscribersCount > 0 {
		subscriberCfg.SubscribersCount = cfg.NATS.SubscribersCount
	}
	subscriber, err := eventprocessor.NewSubscriber(subscriberCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event subscriber")
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing subscriber")
		}
	}()

	routerCfg := eventprocessor.DefaultRouterConfig()
	if cfg.NATS.RouterRetryCount > 0 {
		routerCfg.RetryMaxRetries = cfg.NATS.RouterRetryCount
	}
	if cfg.NATS.RouterRetryInitialInterval > 0 {
		routerCfg.RetryInitialInterval = cfg.NATS.RouterRetryInitialInterval
	}
	if cfg.NATS.RouterPoisonQueueTopic != "" {
		routerCfg.PoisonTopic = cfg.NATS.RouterPoisonQueueTopic
	}
	if cfg.NATS.RouterCloseTimeout > 0 {
		routerCfg.CloseTimeout = cfg.NATS.RouterCloseTimeout
	}

	eventRouter, err := eventprocessor.NewRouter(routerCfg, publisher.WatermillPublisher())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event router")
	}

	reconciler := eventprocessor.NewReconciler(items, grants, db, hub, eventprocessor.ReconcilerConfig{
		PublicRecencyWindow: cfg.Feed.PublicRecencyWindow,
	})
	eventRouter.AddConsumerHandler(
		"feed-reconciler",
		"feed.>",
		subscriber.WatermillSubscriber(),
		reconciler.HandleMessage,
	)
	tree.AddMessagingService(services.NewRouterService(eventRouter))

	authenticator, err := auth.NewAuthenticator(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authentication")
	}

	natsReady := nc.IsConnected
	if broker != nil {
		natsReady = func() bool { return broker.IsRunning() && nc.IsConnected() }
	}

	handler := api.NewHandler(
		reader,
		refresher,
		items,
		publisher,
		hub,
		api.NewMediaResolver(&cfg.Media),
		cfg,
		natsReady,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, authenticator, cfg).Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(services.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", server.Addr).
		Msg("Starting Reelfeed")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
