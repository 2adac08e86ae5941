// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package matchapi is the HTTP client for the match CRUD API.

Responses are decoded from the APIResponse envelope and HTTP errors are mapped
onto the shared error taxonomy in models:

	400 -> *models.ValidationError
	401 -> models.ErrAuthentication
	403 -> models.ErrForbidden
	404 -> models.ErrNotFound
	5xx, 429, network -> models.ErrTransport

A circuit breaker opens after five consecutive transport failures and fails
fast with models.ErrTransport until it half-opens.

MatchStoreConfig binds a Client to an optimistic engine for the matches store.
*/
package matchapi
