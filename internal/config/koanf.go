// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tandem/config.yaml",
}

// ConfigPathEnvVar names the environment variable holding an explicit config file.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8420,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		API: APIConfig{
			DefaultPageSize: 50,
			MaxPageSize:     500,
		},
		Security: SecurityConfig{
			TokenTTL:        24 * time.Hour,
			Issuer:          "",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Driver:       DriverDuckDB,
			Path:         "",
			MaxOpenConns: 10,
			Migrate:      true,
		},
		Realtime: RealtimeConfig{
			Feed:            FeedWatermill,
			Table:           "matches",
			NotifyChannel:   "tandem_changes",
			Topic:           "tandem.changes",
			Workers:         8,
			QueueSize:       256,
			AuthTimeout:     10 * time.Second,
			SendBuffer:      256,
			PingInterval:    54 * time.Second,
			LookupTimeout:   5 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		NATS: NATSConfig{
			URL:         "nats://127.0.0.1:4222",
			StoreDir:    "/data/nats",
			StreamName:  "TANDEM",
			DurableName: "tandem-bridge",
			QueueGroup:  "tandem-bridge",
		},
		Client: ClientConfig{
			ServerURL:         "http://127.0.0.1:8420",
			CachePath:         "",
			ChunkSize:         100,
			RequestTimeout:    15 * time.Second,
			ReconnectInterval: 2 * time.Second,
			ReconnectBurst:    3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults
//  2. Optional YAML config file
//  3. Environment variables
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadClient loads configuration for tandemctl. Only the client and logging
// sections are validated since the CLI never opens a datastore.
func LoadClient() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateClient(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cfg.validateLogging(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// JWT_SECRET -> security.jwt_secret
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

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

// sliceConfigPaths are parsed as comma-separated lists when they come from env.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

var envMappings = map[string]string{
	// Server
	"http_host":        "server.host",
	"http_port":        "server.port",
	"http_timeout":     "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"environment":      "server.environment",

	// API
	"api_default_page_size": "api.default_page_size",
	"api_max_page_size":     "api.max_page_size",

	// Security
	"jwt_secret":          "security.jwt_secret",
	"jwt_issuer":          "security.issuer",
	"token_ttl":           "security.token_ttl",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",

	// Database
	"database_driver":         "database.driver",
	"database_url":            "database.dsn",
	"duckdb_path":             "database.path",
	"database_max_open_conns": "database.max_open_conns",
	"database_migrate":        "database.migrate",

	// Realtime
	"realtime_feed":             "realtime.feed",
	"realtime_table":            "realtime.table",
	"realtime_notify_channel":   "realtime.notify_channel",
	"realtime_topic":            "realtime.topic",
	"realtime_workers":          "realtime.workers",
	"realtime_queue_size":       "realtime.queue_size",
	"realtime_auth_timeout":     "realtime.auth_timeout",
	"realtime_send_buffer":      "realtime.send_buffer",
	"realtime_ping_interval":    "realtime.ping_interval",
	"realtime_lookup_timeout":   "realtime.lookup_timeout",
	"realtime_breaker_failures": "realtime.breaker_failures",
	"realtime_breaker_timeout":  "realtime.breaker_timeout",

	// NATS
	"nats_url":          "nats.url",
	"nats_embedded":     "nats.embedded_server",
	"nats_store_dir":    "nats.store_dir",
	"nats_stream_name":  "nats.stream_name",
	"nats_durable_name": "nats.durable_name",
	"nats_queue_group":  "nats.queue_group",

	// Client
	"tandem_server_url":         "client.server_url",
	"tandem_token":              "client.token",
	"tandem_cache_path":         "client.cache_path",
	"tandem_chunk_size":         "client.chunk_size",
	"tandem_request_timeout":    "client.request_timeout",
	"tandem_reconnect_interval": "client.reconnect_interval",
	"tandem_reconnect_burst":    "client.reconnect_burst",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps environment variable names to koanf paths.
// Unknown variables return "" and are ignored.
//
// Examples:
//   - JWT_SECRET -> security.jwt_secret
//   - DATABASE_URL -> database.dsn
//   - REALTIME_FEED -> realtime.feed
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
