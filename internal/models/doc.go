// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package models holds the data shapes shared by the Tandem server and client
// SDK: matches and profiles, the realtime message envelope, change events and
// the error taxonomy.
//
// # Entities
//
// Match is the row of the watched "matches" table. Profile is the public,
// shareable part of a user. MatchView is what a client keeps in its store: a
// Match plus the counterpart's profile as seen from the viewing user.
//
// # Wire Protocol
//
// All realtime traffic is a Message{type, data} JSON envelope:
//
//	client -> server   authenticate {token, browser_instance_id}, ping
//	server -> client   auth_result {status, message?}, change {...}, pong
//
// # Identifiers
//
// Durable identifiers are UUIDv4 strings issued by the server. Entities created
// optimistically on a client carry a temporary identifier with the "tmp-"
// prefix until the server confirms them (see NewTempID and IsTempID).
package models
