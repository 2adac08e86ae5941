// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package main is the entry point for the Tandem server.

The server owns the matches and profiles tables, serves the REST API, and
pushes every committed row change over WebSocket to both participants of
the affected match.

# Application Architecture

	RootSupervisor ("tandem")
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocket Hub
	│   ├── Capture bridge (postgres, watermill or nats feed)
	│   └── Feed transport closer (watermill and nats feeds)
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 with defaults, optional YAML file, environment
 2. Logging: zerolog with JSON/console output modes
 3. Database: DuckDB (embedded) or PostgreSQL, with migrations
 4. Authentication: HS256 JWT
 5. Change feed: selected by REALTIME_FEED
 6. WebSocket Hub and capture bridge
 7. Supervisor Tree and HTTP Server

# Change Feeds

	REALTIME_FEED=postgres   # LISTEN/NOTIFY from the matches trigger
	REALTIME_FEED=watermill  # in-process gochannel, fed by the API (default)
	REALTIME_FEED=nats       # JetStream, requires -tags nats

The postgres feed requires DATABASE_DRIVER=postgres. The watermill and nats
feeds work with either driver because the API publishes its own writes.

# Configuration

	HTTP_PORT=8420
	JWT_SECRET=<32+ chars>
	DATABASE_DRIVER=duckdb       # duckdb or postgres
	DUCKDB_PATH=/data/tandem.duckdb
	DATABASE_URL=postgres://...
	NATS_URL=nats://127.0.0.1:4222
	NATS_EMBEDDED=true
	LOG_LEVEL=info
	LOG_FORMAT=json

# Building

	go build -o tandem ./cmd/server
	go build -tags nats -o tandem ./cmd/server

Version information is injected with:

	go build -ldflags "-X main.version=v1.0.0" ./cmd/server

# Graceful Shutdown

SIGINT and SIGTERM cancel the root context. The supervisor stops the HTTP
server, the capture bridge and the hub, then reports any service that failed
to stop within SUPERVISOR_SHUTDOWN_TIMEOUT.
*/
package main
