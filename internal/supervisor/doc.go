// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package supervisor runs the server's long-running services under suture v4.

	tandem
	├── messaging-layer
	│   ├── websocket-hub
	│   ├── capture-<feed>          (postgres, watermill or nats)
	│   └── feed transports         (in-process pub/sub, NATS connection)
	└── api-layer
	    └── http-server

Each layer restarts its children independently with suture's backoff. A
change feed that loses its connection is restarted without affecting the
HTTP API, and a restarted hub reopens for new registrations after closing
every connection it held.

Supervisor events are logged through sutureslog using the slog adapter from
internal/logging.

Service adapters live in the services subpackage.
*/
package supervisor
