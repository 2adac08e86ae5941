// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package lifecycle ties a set of optimistic stores to the user session.

A Manager moves through uninitialized, initializing and ready; Dispose is
terminal. The first UpdateSession builds the registered stores, restores
their cached snapshots and, when a session is present, enables them with its
token, fetches them and connects the realtime channel. Signing out disables
the stores without discarding their data and saves snapshots, so the next
session starts from the cache.

Session updates that arrive while the manager is initializing are coalesced
and only the most recent is applied once initialization finishes.
*/
package lifecycle
