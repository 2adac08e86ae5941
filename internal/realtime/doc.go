// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package realtime is the client side of the change gateway.

A Manager holds exactly one websocket connection per browser instance. The
browser instance id is generated once per Manager and sent with every
authenticate message, so the gateway replaces rather than duplicates the
connection when the client reconnects or refreshes its token.

Change events are routed by table to the Receivers registered for it. Bind
adapts an optimistic.Engine, which reconciles the events against its pending
mutations; the manager itself never touches store state.

After a transport failure the manager re-dials and re-authenticates with the
last token, paced by a token bucket limiter. A rejected token stops the
reconnect loop until the next Connect.
*/
package realtime
