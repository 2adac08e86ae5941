// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestMatchCounterpart(t *testing.T) {
	m := Match{ID: "m1", UserAID: "a", UserBID: "b"}

	tests := []struct {
		user string
		want string
	}{
		{"a", "b"},
		{"b", "a"},
		{"c", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			if got := m.Counterpart(tt.user); got != tt.want {
				t.Errorf("Counterpart(%q) = %q, want %q", tt.user, got, tt.want)
			}
		})
	}
}

func TestMatchParticipants(t *testing.T) {
	tests := []struct {
		name string
		m    Match
		want int
	}{
		{"both", Match{UserAID: "a", UserBID: "b"}, 2},
		{"id only", Match{ID: "m1"}, 0},
		{"one side", Match{UserAID: "a"}, 1},
		{"self", Match{UserAID: "a", UserBID: "a"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.m.Participants()); got != tt.want {
				t.Errorf("len(Participants()) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTempID(t *testing.T) {
	id := NewTempID()
	if !IsTempID(id) {
		t.Fatalf("IsTempID(%q) = false", id)
	}
	if IsTempID(NewID()) {
		t.Error("durable id reported as temporary")
	}
	if id == NewTempID() {
		t.Error("temp ids should be unique")
	}
}

func TestMatchViewJSONFlattensMatch(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := MatchView{
		Match:       Match{ID: "m1", UserAID: "a", UserBID: "b", Status: MatchPending, UpdatedAt: ts},
		Counterpart: &Profile{UserID: "b", DisplayName: "Bee"},
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"id":"m1"`, `"user_b_id":"b"`, `"display_name":"Bee"`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}

	var back MatchView
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.EntityKey() != "m1" || !back.Revision().Equal(ts) {
		t.Errorf("round trip lost identity: %+v", back)
	}
}

func TestRowChangeRowID(t *testing.T) {
	tests := []struct {
		name   string
		change RowChange
		want   string
	}{
		{"insert", RowChange{NewRow: &Match{ID: "n"}}, "n"},
		{"delete", RowChange{OldRow: &Match{ID: "o"}}, "o"},
		{"empty new row", RowChange{NewRow: &Match{}, OldRow: &Match{ID: "o"}}, "o"},
		{"nothing", RowChange{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.change.RowID(); got != tt.want {
				t.Errorf("RowID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage(MessageAuthenticate, AuthenticatePayload{Token: "t", BrowserInstanceID: "b1"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	var p AuthenticatePayload
	if err := msg.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Token != "t" || p.BrowserInstanceID != "b1" {
		t.Errorf("payload = %+v", p)
	}

	empty, _ := NewMessage(MessagePing, nil)
	if err := empty.Decode(&p); err == nil {
		t.Error("Decode of empty message should fail")
	}
}

func TestNewEventIDSortable(t *testing.T) {
	a := NewEventID()
	time.Sleep(2 * time.Millisecond)
	b := NewEventID()
	if len(a) != 26 {
		t.Errorf("len = %d, want 26", len(a))
	}
	if a >= b {
		t.Errorf("event ids not increasing: %s >= %s", a, b)
	}
}

func TestValidationErrorIs(t *testing.T) {
	err := fmt.Errorf("update match: %w", &ValidationError{Field: "status", Message: "unknown"})
	if !errors.Is(err, ErrValidation) {
		t.Error("errors.Is(err, ErrValidation) = false")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "status" {
		t.Errorf("errors.As failed: %v", ve)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("validation error matched ErrNotFound")
	}
	if got := ve.Error(); got != "validation failed: status: unknown" {
		t.Errorf("Error() = %q", got)
	}
}

func TestStatusAndOperationValid(t *testing.T) {
	if !MatchAccepted.Valid() || MatchStatus("maybe").Valid() {
		t.Error("MatchStatus.Valid mismatch")
	}
	if !OpDelete.Valid() || Operation("upsert").Valid() {
		t.Error("Operation.Valid mismatch")
	}
}
