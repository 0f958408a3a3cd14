// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

// Package metrics defines Prometheus metrics for the feed service.
// All metrics are registered with the default registry via promauto and
// exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts HTTP API requests by method, route and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelfeed_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	// APIRequestDuration observes HTTP request latency by route.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelfeed_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RateLimitRejections counts requests rejected by rate limiting.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_rate_limit_rejections_total",
			Help: "Total number of requests rejected by rate limiting",
		},
	)

	// FeedPageDuration observes feed page read latency, including any
	// rebuild the read waited on.
	FeedPageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reelfeed_feed_page_duration_seconds",
			Help:    "Feed page read duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	// FeedRebuildDuration observes full cache rebuild latency.
	FeedRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reelfeed_feed_rebuild_duration_seconds",
			Help:    "Feed cache rebuild duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	// FeedRebuildsTotal counts cache rebuilds by trigger (cold, stale,
	// explicit) and outcome (ok, error, timeout).
	FeedRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelfeed_feed_rebuilds_total",
			Help: "Total number of feed cache rebuilds",
		},
		[]string{"trigger", "outcome"},
	)

	// FeedStalePagesTotal counts pages served from a stale cache after a
	// rebuild timed out.
	FeedStalePagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_feed_stale_pages_total",
			Help: "Total number of feed pages served stale after rebuild timeout",
		},
	)

	// ReconcilerEventsTotal counts reconciled mutation events by type and
	// outcome (applied, noop, error).
	ReconcilerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelfeed_reconciler_events_total",
			Help: "Total number of mutation events processed by the reconciler",
		},
		[]string{"type", "outcome"},
	)

	// NATSPublishTotal counts event publishes by outcome.
	NATSPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelfeed_nats_publish_total",
			Help: "Total number of NATS event publishes",
		},
		[]string{"outcome"},
	)

	// WebSocketClients tracks currently connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelfeed_websocket_clients",
			Help: "Number of currently connected WebSocket clients",
		},
	)

	// WebSocketNotificationsTotal counts feed-change notifications pushed
	// to clients.
	WebSocketNotificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_websocket_notifications_total",
			Help: "Total number of feed-change notifications pushed over WebSocket",
		},
	)

	// MediaURLCacheHits counts signed media URL cache hits.
	MediaURLCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_media_url_cache_hits_total",
			Help: "Total number of signed media URL cache hits",
		},
	)

	// MediaURLCacheMisses counts signed media URL cache misses.
	MediaURLCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_media_url_cache_misses_total",
			Help: "Total number of signed media URL cache misses",
		},
	)

	// StoreBreakerState reports the item/grant store circuit breaker state
	// (0 closed, 1 half-open, 2 open).
	StoreBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reelfeed_store_breaker_state",
			Help: "Circuit breaker state per backing store (0=closed, 1=half-open, 2=open)",
		},
		[]string{"store"},
	)
)

// RecordNATSPublish records the outcome of a single publish attempt.
func RecordNATSPublish(err error) {
	if err != nil {
		NATSPublishTotal.WithLabelValues("error").Inc()
		return
	}
	NATSPublishTotal.WithLabelValues("ok").Inc()
}
