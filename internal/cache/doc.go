// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package cache persists client store snapshots across sessions.

Each store owns one partition, keyed by store name, holding the bytes produced
by optimistic.Engine.Export. The lifecycle manager restores partitions before
the first fetch and saves them whenever a store is disabled or disposed, so a
signed-out session keeps its last known data on disk.

Partitions are stored in BadgerDB under the "partition:" key prefix. An empty
path opens an in-memory database, which is what tests use.
*/
package cache
