// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package eventprocessor

import "time"

// StreamName is the JetStream stream holding all feed mutation events.
const StreamName = "FEED_EVENTS"

// PoisonTopic receives messages that exhausted their redeliveries.
const PoisonTopic = "feed.poison"

// PublisherConfig configures the NATS JetStream publisher.
type PublisherConfig struct {
	URL            string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	// CircuitBreaker guards publishes when NATS degrades. Nil disables it.
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultPublisherConfig returns production publisher defaults.
func DefaultPublisherConfig(url string) PublisherConfig {
	cb := DefaultCircuitBreakerConfig()
	return PublisherConfig{
		URL:            url,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
		MaxRetries:     3,
		RetryDelay:     100 * time.Millisecond,
		CircuitBreaker: &cb,
	}
}

// SubscriberConfig configures the NATS JetStream subscriber.
type SubscriberConfig struct {
	URL            string
	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	AckWaitTimeout time.Duration
	MaxDeliver     int
	MaxAckPending  int
	QueueGroup     string
	DurableName    string

	// SubscribersCount is the number of concurrent consumers per handler.
	// DETERMINISM: keep this at 1. Events for one item share a subject and
	// must be reconciled in publish order; parallel consumers would race
	// a delete against a counter update on the same item.
	SubscribersCount int

	// StreamName binds the consumer to an existing stream. Consumers of
	// wildcard topics such as "feed.>" cannot derive a stream name from
	// the topic, so the stream must be provisioned up front and named
	// here explicitly.
	StreamName string
}

// DefaultSubscriberConfig returns production subscriber defaults.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		ConnectTimeout:   10 * time.Second,
		CloseTimeout:     30 * time.Second,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    256,
		QueueGroup:       "reconcilers",
		DurableName:      "feed-reconciler",
		SubscribersCount: 1,
		StreamName:       StreamName,
	}
}

// StreamConfig describes the JetStream stream for feed events.
type StreamConfig struct {
	Name       string
	Subjects   []string
	MaxAge     time.Duration
	MaxBytes   int64
	MaxMsgs    int64
	Replicas   int
	Duplicates time.Duration
}

// DefaultStreamConfig returns the stream definition for feed events.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"feed.>"},
		MaxAge:     24 * time.Hour,
		MaxBytes:   1 << 30, // 1 GiB
		MaxMsgs:    -1,
		Replicas:   1,
		Duplicates: 2 * time.Minute,
	}
}

// RouterConfig configures the Watermill message router.
type RouterConfig struct {
	CloseTimeout time.Duration
	// Retry middleware settings for handler failures.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// PoisonTopic receives messages the retry middleware gave up on.
	// Empty disables the poison queue.
	PoisonTopic string
}

// DefaultRouterConfig returns production router defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		PoisonTopic:          PoisonTopic,
	}
}

// CircuitBreakerConfig configures the publisher circuit breaker.
type CircuitBreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures uint32
}

// DefaultCircuitBreakerConfig returns production breaker defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		MaxFailures: 5,
	}
}

// ServerConfig configures the embedded NATS server.
type ServerConfig struct {
	Host     string
	Port     int
	StoreDir string
}

// DefaultServerConfig returns embedded server defaults. Port -1 asks the
// server to pick a random free port.
func DefaultServerConfig(storeDir string) ServerConfig {
	return ServerConfig{
		Host:     "127.0.0.1",
		Port:     4222,
		StoreDir: storeDir,
	}
}
