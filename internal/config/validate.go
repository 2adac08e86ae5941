// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// minJWTSecretLength is the minimum HS256 secret length accepted.
const minJWTSecretLength = 32

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateAPI,
		c.validateSecurity,
		c.validateDatabase,
		c.validateRealtime,
		c.validateNATS,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	switch c.Server.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.DefaultPageSize < 1 || c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("API page sizes invalid: default=%d max=%d", c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
	}
	if c.Server.IsProduction() {
		for _, o := range c.Security.CORSOrigins {
			if o == "*" {
				return fmt.Errorf("CORS_ORIGINS must not contain * in production")
			}
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	case DriverDuckDB:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or duckdb, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("DATABASE_MAX_OPEN_CONNS must be at least 1")
	}
	return nil
}

func (c *Config) validateRealtime() error {
	r := c.Realtime
	switch r.Feed {
	case FeedPostgres:
		if c.Database.Driver != DriverPostgres {
			return fmt.Errorf("REALTIME_FEED=postgres requires DATABASE_DRIVER=postgres")
		}
		if r.NotifyChannel == "" {
			return fmt.Errorf("REALTIME_NOTIFY_CHANNEL is required for the postgres feed")
		}
	case FeedWatermill, FeedNATS:
		if r.Topic == "" {
			return fmt.Errorf("REALTIME_TOPIC is required for the %s feed", r.Feed)
		}
	default:
		return fmt.Errorf("REALTIME_FEED must be postgres, watermill or nats, got %q", r.Feed)
	}
	if r.Table == "" {
		return fmt.Errorf("REALTIME_TABLE is required")
	}
	if r.Workers < 1 {
		return fmt.Errorf("REALTIME_WORKERS must be at least 1")
	}
	if r.QueueSize < 1 || r.SendBuffer < 1 {
		return fmt.Errorf("REALTIME_QUEUE_SIZE and REALTIME_SEND_BUFFER must be at least 1")
	}
	if r.AuthTimeout <= 0 || r.PingInterval <= 0 || r.LookupTimeout <= 0 {
		return fmt.Errorf("realtime timeouts must be positive")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.Realtime.Feed != FeedNATS {
		return nil
	}
	if c.NATS.EmbeddedServer {
		if c.NATS.StoreDir == "" {
			return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
		}
		return nil
	}
	u, err := url.Parse(c.NATS.URL)
	if err != nil || (u.Scheme != "nats" && u.Scheme != "tls") || u.Host == "" {
		return fmt.Errorf("NATS_URL must be a nats:// or tls:// URL, got %q", c.NATS.URL)
	}
	return nil
}

func (c *Config) validateClient() error {
	u, err := url.Parse(c.Client.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("TANDEM_SERVER_URL must be an http(s) URL, got %q", c.Client.ServerURL)
	}
	if c.Client.ChunkSize < 1 {
		return fmt.Errorf("TANDEM_CHUNK_SIZE must be at least 1")
	}
	if c.Client.RequestTimeout <= 0 || c.Client.ReconnectInterval <= 0 {
		return fmt.Errorf("client timeouts must be positive")
	}
	if c.Client.ReconnectBurst < 1 {
		return fmt.Errorf("TANDEM_RECONNECT_BURST must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be trace, debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
