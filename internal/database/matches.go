// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
)

const matchColumns = `id, user_a_id, user_b_id, status, note, created_at, updated_at`

// maxWriteAttempts bounds retries of DuckDB transaction conflicts.
const maxWriteAttempts = 3

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	var status string
	if err := row.Scan(&m.ID, &m.UserAID, &m.UserBID, &status, &m.Note, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = models.MatchStatus(status)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// ListMatchesForUser returns one page of the matches userID participates in,
// oldest first.
func (db *DB) ListMatchesForUser(ctx context.Context, userID string, limit, offset int) (matches []models.Match, err error) {
	start := time.Now()
	defer func() { record("list", models.TableMatches, start, err) }()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+matchColumns+` FROM matches
		WHERE user_a_id = $1 OR user_b_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, mapError("list matches", err)
	}
	defer closeQuietly(rows)

	matches = make([]models.Match, 0, limit)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list matches", err)
	}
	return matches, nil
}

// GetMatch returns the match with id or models.ErrNotFound. It satisfies
// capture.RelationshipLookup.
func (db *DB) GetMatch(ctx context.Context, id string) (m *models.Match, err error) {
	start := time.Now()
	defer func() { record("get", models.TableMatches, start, err) }()

	m, err = scanMatch(db.conn.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get match", err)
	}
	return m, nil
}

// CreateMatch inserts m. A missing id or status is filled in; timestamps are
// always set here.
func (db *DB) CreateMatch(ctx context.Context, m models.Match) (created *models.Match, err error) {
	start := time.Now()
	defer func() { record("create", models.TableMatches, start, err) }()

	if m.UserAID == "" || m.UserBID == "" {
		return nil, &models.ValidationError{Field: "counterpart_id", Message: "both participants are required"}
	}
	if m.UserAID == m.UserBID {
		return nil, &models.ValidationError{Field: "counterpart_id", Message: "cannot match with yourself"}
	}
	if m.ID == "" {
		m.ID = models.NewID()
	}
	if m.Status == "" {
		m.Status = models.MatchPending
	}
	if !m.Status.Valid() {
		return nil, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", m.Status)}
	}
	m.CreatedAt = now()
	m.UpdatedAt = m.CreatedAt

	_, err = db.conn.ExecContext(ctx, `INSERT INTO matches (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.UserAID, m.UserBID, string(m.Status), m.Note, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, mapError("create match", err)
	}
	return &m, nil
}

// UpdateMatch reads the row, lets apply modify a copy, and writes it back
// with a strictly newer updated_at. It returns the row before and after the
// write. Participants and created_at cannot be changed by apply.
func (db *DB) UpdateMatch(ctx context.Context, id string, apply func(*models.Match) error) (before, after *models.Match, err error) {
	start := time.Now()
	defer func() { record("update", models.TableMatches, start, err) }()

	for attempt := 1; ; attempt++ {
		before, after, err = db.updateMatchOnce(ctx, id, apply)
		if err == nil || !isTransactionConflict(err) || attempt == maxWriteAttempts {
			return before, after, err
		}
		logging.Debug().Str("match_id", id).Int("attempt", attempt).Msg("Retrying match update after transaction conflict")
	}
}

func (db *DB) updateMatchOnce(ctx context.Context, id string, apply func(*models.Match) error) (*models.Match, *models.Match, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, mapError("begin update", err)
	}
	defer rollbackQuietly(tx)

	before, err := scanMatch(tx.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`+db.dialect.forUpdate, id))
	if err != nil {
		return nil, nil, mapError("update match", err)
	}

	after := *before
	if err := apply(&after); err != nil {
		return nil, nil, err
	}
	if !after.Status.Valid() {
		return nil, nil, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", after.Status)}
	}
	after.ID, after.UserAID, after.UserBID, after.CreatedAt = before.ID, before.UserAID, before.UserBID, before.CreatedAt

	// updated_at is the revision clients order pushes by, so it must advance
	// even when two writes land within the same microsecond.
	after.UpdatedAt = now()
	if !after.UpdatedAt.After(before.UpdatedAt) {
		after.UpdatedAt = before.UpdatedAt.Add(time.Microsecond)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE matches SET status = $1, note = $2, updated_at = $3 WHERE id = $4`,
		string(after.Status), after.Note, after.UpdatedAt, id); err != nil {
		return nil, nil, mapError("update match", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, mapError("commit update", err)
	}
	return before, &after, nil
}

// DeleteMatch removes the row and returns it, or models.ErrNotFound.
func (db *DB) DeleteMatch(ctx context.Context, id string) (deleted *models.Match, err error) {
	start := time.Now()
	defer func() { record("delete", models.TableMatches, start, err) }()

	deleted, err = scanMatch(db.conn.QueryRowContext(ctx,
		`DELETE FROM matches WHERE id = $1 RETURNING `+matchColumns, id))
	if err != nil {
		return nil, mapError("delete match", err)
	}
	return deleted, nil
}
