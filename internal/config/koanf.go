// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/reelfeed/config.yaml",
	"/etc/reelfeed/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Feed: FeedConfig{
			StalenessWindow:     30 * time.Second,
			PublicRecencyWindow: 720 * time.Hour, // 30 days
			RebuildTimeout:      10 * time.Second,
			RetryAttempts:       3,
			RetryDelay:          100 * time.Millisecond,
			DefaultPageSize:     20,
			MaxPageSize:         100,
			RefreshPerMinute:    6,
		},
		Store: StoreConfig{
			Path:     "/data/reelfeed/badger",
			InMemory: false,
		},
		NATS: NATSConfig{
			Enabled:          true,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/reelfeed/jetstream",
			MaxMemory:        1 << 30,  // 1GB
			MaxStore:         10 << 30, // 10GB
			RetentionDays:    7,
			DurableName:      "feed-reconciler",
			QueueGroup:       "reconcilers",
			SubscribersCount: 1, // per-item ordering, see field doc

			RouterRetryCount:           3,
			RouterRetryInitialInterval: 100 * time.Millisecond,
			RouterPoisonQueueTopic:     "feed.poison",
			RouterCloseTimeout:         30 * time.Second,
		},
		Security: SecurityConfig{
			AuthMode:        "jwt",
			JWTSecret:       "",
			TokenTTL:        24 * time.Hour,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Client: ClientConfig{
			OptimisticTimeout: 5 * time.Second,
		},
		Media: MediaConfig{
			BaseURL:       "http://127.0.0.1:8080/media",
			SigningSecret: "",
			URLTTL:        15 * time.Minute,
			CacheCapacity: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known
// slice fields. Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file or defaults), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - FEED_STALENESS_WINDOW -> feed.staleness_window
//   - NATS_URL -> nats.url
//   - JWT_SECRET -> security.jwt_secret
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":               "server.host",
		"http_port":               "server.port",
		"http_read_timeout":       "server.read_timeout",
		"http_write_timeout":      "server.write_timeout",
		"server_shutdown_timeout": "server.shutdown_timeout",

		// Feed mappings
		"feed_staleness_window":   "feed.staleness_window",
		"feed_public_recency":     "feed.public_recency_window",
		"feed_rebuild_timeout":    "feed.rebuild_timeout",
		"feed_retry_attempts":     "feed.retry_attempts",
		"feed_retry_delay":        "feed.retry_delay",
		"feed_default_page_size":  "feed.default_page_size",
		"feed_max_page_size":      "feed.max_page_size",
		"feed_refresh_per_minute": "feed.refresh_per_minute",

		// Store mappings
		"badger_path":      "store.path",
		"badger_in_memory": "store.in_memory",

		// NATS mappings
		"nats_enabled":           "nats.enabled",
		"nats_url":               "nats.url",
		"nats_embedded":          "nats.embedded_server",
		"nats_store_dir":         "nats.store_dir",
		"nats_max_memory":        "nats.max_memory",
		"nats_max_store":         "nats.max_store",
		"nats_retention_days":    "nats.retention_days",
		"nats_durable_name":      "nats.durable_name",
		"nats_queue_group":       "nats.queue_group",
		"nats_subscribers_count": "nats.subscribers_count",

		// Security mappings
		"auth_mode":         "security.auth_mode",
		"jwt_secret":        "security.jwt_secret",
		"token_ttl":         "security.token_ttl",
		"rate_limit_reqs":   "security.rate_limit_reqs",
		"rate_limit_window": "security.rate_limit_window",
		"cors_origins":      "security.cors_origins",

		// Client mappings
		"client_optimistic_timeout": "client.optimistic_timeout",

		// Media mappings
		"media_base_url":       "media.base_url",
		"media_signing_secret": "media.signing_secret",
		"media_url_ttl":        "media.url_ttl",
		"media_cache_capacity": "media.cache_capacity",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unknown variables are ignored rather than guessed at. A wrong guess
	// would silently shadow a default.
	return ""
}
