// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package websocket is the server side of the realtime channel: a registry of
authenticated connections and per-user fan-out.

Key Components:

  - Hub: maps user id -> browser instance id -> Handle. Register verifies the
    token, supersedes an older handle for the same browser instance and tags
    the handle with its owner so Unregister is a constant-time lookup.
    Deliver emits one message on every live handle of a user.
  - Client: a Handle backed by a gorilla/websocket connection with a read pump
    and a single writer goroutine.

Connection Lifecycle:

 1. HTTP upgrade via ServeWS
 2. Client sends {"type":"authenticate","data":{"token":..,"browser_instance_id":..}}
    within AuthTimeout
 3. Hub verifies the token and replies {"type":"auth_result","data":{"status":"ok"}}
    or {"status":"error","message":..} followed by a close
 4. change messages are pushed as the capture bridge delivers them; the
    client may send ping and receives pong
 5. On disconnect the read pump unregisters the handle; a user entry is
    removed with its last browser

Thread Safety:

Registry state is only touched under the hub mutex and no socket I/O happens
while it is held: Handle.Send only enqueues. A handle whose queue is full is
dropped rather than allowed to stall delivery to the user's other browsers.
*/
package websocket
