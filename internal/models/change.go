// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
)

// Operation is the kind of row change.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// RowChange is a raw notification from the upstream change feed, before
// enrichment. OldRow is nil for inserts; NewRow is nil for deletes. Either row
// may be incomplete (id only) when the upstream payload was truncated.
type RowChange struct {
	Table       string    `json:"table"`
	Operation   Operation `json:"operation"`
	NewRow      *Match    `json:"new_row,omitempty"`
	OldRow      *Match    `json:"old_row,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// RowID returns the id of the changed row.
func (c *RowChange) RowID() string {
	if c.NewRow != nil && c.NewRow.ID != "" {
		return c.NewRow.ID
	}
	if c.OldRow != nil {
		return c.OldRow.ID
	}
	return ""
}

// DeliveryContext holds entities fetched to enrich one recipient's payload.
type DeliveryContext struct {
	Counterpart *Profile `json:"counterpart,omitempty"`
	// Degraded is set when enrichment failed and the payload was delivered
	// with partial context.
	Degraded bool `json:"degraded,omitempty"`
}

// ChangeEvent is the per-recipient payload pushed to clients. Rows are kept
// raw so that clients can decode them into their own entity types.
type ChangeEvent struct {
	ID          string           `json:"id"`
	Table       string           `json:"table"`
	Operation   Operation        `json:"operation"`
	NewRow      json.RawMessage  `json:"new_row,omitempty"`
	OldRow      json.RawMessage  `json:"old_row,omitempty"`
	Context     *DeliveryContext `json:"context,omitempty"`
	CommittedAt time.Time        `json:"committed_at"`
}

// NewEventID returns a lexically sortable change event id.
func NewEventID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Realtime message types.
const (
	MessageAuthenticate = "authenticate"
	MessageAuthResult   = "auth_result"
	MessageChange       = "change"
	MessagePing         = "ping"
	MessagePong         = "pong"
)

// Auth result statuses.
const (
	AuthStatusOK    = "ok"
	AuthStatusError = "error"
)

// Message is the realtime envelope in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes payload into a Message of the given type.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg.Data = data
	return msg, nil
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// AuthenticatePayload is sent by a client right after the socket opens.
type AuthenticatePayload struct {
	Token             string `json:"token"`
	BrowserInstanceID string `json:"browser_instance_id"`
}

// AuthResultPayload answers an authenticate message.
type AuthResultPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
