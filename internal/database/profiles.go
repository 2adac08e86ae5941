// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package database

import (
	"context"
	"time"

	"github.com/tomtom215/tandem/internal/models"
)

const tableProfiles = "profiles"

// GetProfile returns the public profile of userID or models.ErrNotFound. It
// satisfies capture.ProfileLookup.
func (db *DB) GetProfile(ctx context.Context, userID string) (p *models.Profile, err error) {
	start := time.Now()
	defer func() { record("get", tableProfiles, start, err) }()

	var out models.Profile
	err = db.conn.QueryRowContext(ctx,
		`SELECT user_id, display_name, avatar_url, bio FROM profiles WHERE user_id = $1`, userID).
		Scan(&out.UserID, &out.DisplayName, &out.AvatarURL, &out.Bio)
	if err != nil {
		return nil, mapError("get profile", err)
	}
	return &out, nil
}

// UpsertProfile creates or replaces the profile of p.UserID.
func (db *DB) UpsertProfile(ctx context.Context, p models.Profile) (err error) {
	start := time.Now()
	defer func() { record("upsert", tableProfiles, start, err) }()

	if p.UserID == "" {
		return &models.ValidationError{Field: "user_id", Message: "required"}
	}
	if p.DisplayName == "" {
		return &models.ValidationError{Field: "display_name", Message: "required"}
	}
	_, err = db.conn.ExecContext(ctx, `INSERT INTO profiles (user_id, display_name, avatar_url, bio)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			bio = excluded.bio`,
		p.UserID, p.DisplayName, p.AvatarURL, p.Bio)
	return mapError("upsert profile", err)
}
