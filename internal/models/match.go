// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatchStatus is the state of a two-party relationship.
type MatchStatus string

const (
	MatchPending  MatchStatus = "pending"
	MatchAccepted MatchStatus = "accepted"
	MatchDeclined MatchStatus = "declined"
)

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchAccepted, MatchDeclined:
		return true
	}
	return false
}

// TableMatches is the watched table name used in change events.
const TableMatches = "matches"

// Match is one row of the matches table. UpdatedAt is set by the server on
// every write and serves as the row's revision.
type Match struct {
	ID        string      `json:"id"`
	UserAID   string      `json:"user_a_id"`
	UserBID   string      `json:"user_b_id"`
	Status    MatchStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Participants returns both parties of the match, skipping empty ids.
func (m *Match) Participants() []string {
	out := make([]string, 0, 2)
	if m.UserAID != "" {
		out = append(out, m.UserAID)
	}
	if m.UserBID != "" && m.UserBID != m.UserAID {
		out = append(out, m.UserBID)
	}
	return out
}

// HasParticipant reports whether userID is one of the two parties.
func (m *Match) HasParticipant(userID string) bool {
	return userID != "" && (m.UserAID == userID || m.UserBID == userID)
}

// Counterpart returns the other party from userID's perspective, or "" when
// userID is not a participant.
func (m *Match) Counterpart(userID string) string {
	switch userID {
	case "":
		return ""
	case m.UserAID:
		return m.UserBID
	case m.UserBID:
		return m.UserAID
	}
	return ""
}

// Complete reports whether both participants are known. Change notifications
// that were truncated upstream carry only the id.
func (m *Match) Complete() bool {
	return m.UserAID != "" && m.UserBID != ""
}

// Profile is the public part of a user that may be shown to a counterpart.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// MatchView is the client-side entity: a match enriched with the profile of
// the other party.
type MatchView struct {
	Match
	Counterpart *Profile `json:"counterpart,omitempty"`
}

// EntityKey returns the store identifier.
func (v MatchView) EntityKey() string { return v.ID }

// Revision returns the server timestamp of the last write.
func (v MatchView) Revision() time.Time { return v.UpdatedAt }

// CreateMatchRequest is the body of POST /api/v1/matches.
type CreateMatchRequest struct {
	CounterpartID string `json:"counterpart_id" validate:"required,uuid4"`
	Note          string `json:"note,omitempty" validate:"max=500"`
}

// UpdateMatchRequest is the body of PATCH /api/v1/matches/{id}.
// Nil fields are left unchanged.
type UpdateMatchRequest struct {
	Status *MatchStatus `json:"status,omitempty" validate:"omitempty,oneof=pending accepted declined"`
	Note   *string      `json:"note,omitempty" validate:"omitempty,max=500"`
}

// UpsertProfileRequest is the body of PUT /api/v1/profiles/me.
type UpsertProfileRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=80"`
	AvatarURL   string `json:"avatar_url,omitempty" validate:"omitempty,url,max=500"`
	Bio         string `json:"bio,omitempty" validate:"max=500"`
}

// TempIDPrefix marks identifiers that were issued locally and not yet
// confirmed by the server.
const TempIDPrefix = "tmp-"

// NewTempID returns a fresh temporary identifier.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewID returns a fresh durable identifier.
func NewID() string {
	return uuid.NewString()
}
