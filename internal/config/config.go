// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package config

import "time"

// Config holds all application configuration.
//
// The server binary reads every section. tandemctl only needs Client,
// Security (to mint development tokens) and Logging.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	API        APIConfig        `koanf:"api"`
	Security   SecurityConfig   `koanf:"security"`
	Database   DatabaseConfig   `koanf:"database"`
	Realtime   RealtimeConfig   `koanf:"realtime"`
	NATS       NATSConfig       `koanf:"nats"`
	Client     ClientConfig     `koanf:"client"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // development, staging, production
}

// APIConfig holds list pagination settings for the CRUD surface.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// SecurityConfig holds token verification and HTTP hardening settings.
//
// JWTSecret is shared with the authentication provider that issues tokens;
// Tandem never logs users in itself.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	Issuer            string        `koanf:"issuer"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

// DatabaseConfig selects the relational datastore.
type DatabaseConfig struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`  // postgres connection string
	Path         string `koanf:"path"` // duckdb file, "" for in-memory
	MaxOpenConns int    `koanf:"max_open_conns"`
	Migrate      bool   `koanf:"migrate"`
}

// Change feed sources.
const (
	FeedPostgres  = "postgres"  // LISTEN/NOTIFY
	FeedWatermill = "watermill" // in-process gochannel, fed by the API
	FeedNATS      = "nats"      // JetStream via watermill-nats
)

// RealtimeConfig holds gateway and change-capture settings.
type RealtimeConfig struct {
	Feed          string        `koanf:"feed"`
	Table         string        `koanf:"table"`
	NotifyChannel string        `koanf:"notify_channel"`
	Topic         string        `koanf:"topic"`
	Workers       int           `koanf:"workers"`
	QueueSize     int           `koanf:"queue_size"`
	AuthTimeout   time.Duration `koanf:"auth_timeout"`
	SendBuffer    int           `koanf:"send_buffer"`
	PingInterval  time.Duration `koanf:"ping_interval"`
	LookupTimeout time.Duration `koanf:"lookup_timeout"`

	// Consecutive lookup failures before the enrichment breaker opens.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// NATSConfig holds settings for the NATS change feed.
type NATSConfig struct {
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	StreamName     string `koanf:"stream_name"`
	DurableName    string `koanf:"durable_name"`
	QueueGroup     string `koanf:"queue_group"`
}

// ClientConfig holds tandemctl settings.
type ClientConfig struct {
	ServerURL         string        `koanf:"server_url"`
	Token             string        `koanf:"token"`
	CachePath         string        `koanf:"cache_path"`
	ChunkSize         int           `koanf:"chunk_size"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	ReconnectInterval time.Duration `koanf:"reconnect_interval"`
	ReconnectBurst    int           `koanf:"reconnect_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`
}

// SupervisorConfig tunes the suture restart policy.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}

// IsProduction reports whether the server runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}
