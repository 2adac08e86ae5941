// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package database is the relational datastore behind the CRUD API and the
change-capture bridge.

Two drivers are supported through database/sql:

  - duckdb: embedded, the default for single-node deployments and tests.
    It has no change notifications, so the API publishes each committed
    write to a Watermill topic instead.
  - postgres: lib/pq. Migration v3 installs a trigger that emits every row
    change on matches with pg_notify, consumed by capture.PostgresFeed.

Both engines accept $n placeholders, so queries are shared.

Every match write sets updated_at on the server; it is the revision clients
use to discard stale pushes, and UpdateMatch always advances it.

Usage:

	db, err := database.New(ctx, &cfg.Database, database.WithNotifyChannel(cfg.Realtime.NotifyChannel))
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := db.CreateMatch(ctx, models.Match{UserAID: me, UserBID: them})
*/
package database
