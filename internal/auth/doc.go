// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package auth verifies bearer tokens issued by the authentication provider.
//
// Tandem does not log users in. Tokens are HS256 JWTs signed with a secret
// shared with the provider; the subject claim is the user id. JWTManager is
// the TokenVerifier used both for the in-band websocket handshake and for the
// CRUD API's RequireBearer middleware.
package auth
