// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

// Package config loads and validates the service configuration from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables (highest priority).
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the feed service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Feed     FeedConfig     `koanf:"feed"`
	Store    StoreConfig    `koanf:"store"`
	NATS     NATSConfig     `koanf:"nats"`
	Security SecurityConfig `koanf:"security"`
	Client   ClientConfig   `koanf:"client"`
	Media    MediaConfig    `koanf:"media"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// FeedConfig holds feed cache and ranking settings.
type FeedConfig struct {
	// StalenessWindow is the maximum age of a viewer's cache before a page
	// read triggers a full rebuild. This is the service's explicit
	// eventual-consistency bound for missed reconciliation events.
	StalenessWindow time.Duration `koanf:"staleness_window" validate:"gt=0"`

	// PublicRecencyWindow bounds how far back public items are considered
	// feed-eligible during a full rebuild.
	PublicRecencyWindow time.Duration `koanf:"public_recency_window" validate:"gt=0"`

	// RebuildTimeout caps how long a page read may block behind a cold-cache
	// rebuild before the reader falls back to a best-effort page.
	RebuildTimeout time.Duration `koanf:"rebuild_timeout" validate:"gt=0"`

	// RetryAttempts and RetryDelay control retries of transient item store
	// and grant store failures inside the refresher.
	RetryAttempts int           `koanf:"retry_attempts" validate:"gte=0"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	DefaultPageSize int `koanf:"default_page_size" validate:"gt=0"`
	MaxPageSize     int `koanf:"max_page_size" validate:"gt=0,gtefield=DefaultPageSize"`

	// RefreshPerMinute limits explicit refresh requests per viewer.
	RefreshPerMinute int `koanf:"refresh_per_minute" validate:"gt=0"`
}

// StoreConfig holds BadgerDB storage settings.
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`
	// InMemory runs Badger without disk persistence. Test/dev only.
	InMemory bool `koanf:"in_memory"`
}

// NATSConfig holds NATS JetStream settings for the mutation event stream.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
	RetentionDays  int    `koanf:"retention_days"`
	DurableName    string `koanf:"durable_name"`
	QueueGroup     string `koanf:"queue_group"`

	// SubscribersCount is the number of concurrent reconciler consumers.
	//
	// Events for a single item must be applied in generation order. With a
	// single consumer the JetStream delivery order preserves this; values
	// above 1 trade per-item ordering for throughput and are only safe when
	// upstream partitioning guarantees one consumer per item.
	SubscribersCount int `koanf:"subscribers_count" validate:"gte=1"`

	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// SecurityConfig holds authentication and rate limiting settings.
type SecurityConfig struct {
	// AuthMode selects how the viewer identity is established:
	// "jwt" (Authorization bearer token) or "header" (X-Viewer-ID, dev only).
	AuthMode  string `koanf:"auth_mode" validate:"oneof=jwt header"`
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTL bounds how long an issued viewer token stays valid.
	TokenTTL time.Duration `koanf:"token_ttl" validate:"gt=0"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gt=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// ClientConfig holds defaults handed to client projections.
type ClientConfig struct {
	// OptimisticTimeout is how long a locally applied edit may stay pending
	// before it is rolled back without a server response.
	OptimisticTimeout time.Duration `koanf:"optimistic_timeout" validate:"gt=0"`
}

// MediaConfig holds the signed media URL resolver settings.
type MediaConfig struct {
	BaseURL       string        `koanf:"base_url"`
	SigningSecret string        `koanf:"signing_secret"`
	URLTTL        time.Duration `koanf:"url_ttl" validate:"gt=0"`
	CacheCapacity int           `koanf:"cache_capacity" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Security.AuthMode == "jwt" && c.Security.JWTSecret == "" {
		return &ValidationError{Field: "security.jwt_secret", Message: "required when auth_mode is jwt"}
	}
	return nil
}

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}
