// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package testinfra provides containers for integration tests.
//
// Everything here is behind the integration build tag and needs Docker:
//
//	go test -tags integration ./internal/capture/...
//
// # Postgres Container
//
// PostgresContainer runs a real Postgres server so the change trigger,
// LISTEN/NOTIFY delivery and pq.Listener reconnects are tested end to end
// rather than against a mock.
//
// Tests call SkipIfNoDocker first so they are skipped gracefully where
// Docker is unavailable. The first run downloads the image.
package testinfra
