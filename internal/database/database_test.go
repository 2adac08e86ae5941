// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), &config.DatabaseConfig{
		Driver:       config.DriverDuckDB,
		Path:         ":memory:",
		MaxOpenConns: 2,
		Migrate:      true,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_MigratesDuckDB(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("SchemaVersion() = %d, want 2 (trigger migration is postgres-only)", version)
	}

	// Re-running is a no-op.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	history, err := db.MigrationHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Name != "create_profiles" || history[1].Name != "create_matches" {
		t.Errorf("MigrationHistory() = %+v", history)
	}
	if history[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not populated")
	}
	if db.Driver() != config.DriverDuckDB {
		t.Errorf("Driver() = %s", db.Driver())
	}
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(context.Background(), &config.DatabaseConfig{Driver: "sqlite"})
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("New(sqlite) error = %v", err)
	}
}

func TestPostgresMigrations(t *testing.T) {
	d, err := dialectFor(config.DriverPostgres)
	if err != nil {
		t.Fatal(err)
	}
	db := &DB{dialect: d, notifyChannel: "custom_changes"}

	migrations := db.getMigrations()
	last := migrations[len(migrations)-1]
	if !last.appliesTo(config.DriverPostgres) || last.appliesTo(config.DriverDuckDB) {
		t.Fatalf("trigger migration drivers = %v", last.Drivers)
	}
	fn := last.Statements[0]
	for _, want := range []string{"pg_notify('custom_changes', payload)", "octet_length(payload) > 7900", "'user_a_id', old_row->'user_a_id'"} {
		if !strings.Contains(fn, want) {
			t.Errorf("trigger function missing %q", want)
		}
	}
	if !strings.Contains(migrations[1].Statements[0], "created_at TIMESTAMPTZ") {
		t.Error("postgres schema should use TIMESTAMPTZ")
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
	}
}

func TestMatchLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created, err := db.CreateMatch(ctx, models.Match{UserAID: "alice", UserBID: "bob", Note: "hi"})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if created.ID == "" || created.Status != models.MatchPending {
		t.Fatalf("created = %+v", created)
	}
	if !created.UpdatedAt.Equal(created.CreatedAt) {
		t.Error("new row should have updated_at == created_at")
	}

	got, err := db.GetMatch(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if got.UserAID != "alice" || got.UserBID != "bob" || got.Note != "hi" || !got.UpdatedAt.Equal(created.UpdatedAt) {
		t.Errorf("GetMatch() = %+v, want %+v", got, created)
	}

	before, after, err := db.UpdateMatch(ctx, created.ID, func(m *models.Match) error {
		m.Status = models.MatchAccepted
		m.UserAID = "mallory"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateMatch: %v", err)
	}
	if before.Status != models.MatchPending || after.Status != models.MatchAccepted {
		t.Errorf("before=%s after=%s", before.Status, after.Status)
	}
	if after.UserAID != "alice" {
		t.Errorf("participants must be immutable, got user_a_id=%s", after.UserAID)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("revision did not advance: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
	stored, _ := db.GetMatch(ctx, created.ID)
	if !stored.UpdatedAt.Equal(after.UpdatedAt) || stored.Status != models.MatchAccepted {
		t.Errorf("stored = %+v, want %+v", stored, after)
	}

	deleted, err := db.DeleteMatch(ctx, created.ID)
	if err != nil {
		t.Fatalf("DeleteMatch: %v", err)
	}
	if deleted.ID != created.ID || deleted.UserBID != "bob" {
		t.Errorf("deleted = %+v", deleted)
	}
	if _, err := db.GetMatch(ctx, created.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetMatch after delete = %v, want ErrNotFound", err)
	}
	if _, err := db.DeleteMatch(ctx, created.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second DeleteMatch = %v, want ErrNotFound", err)
	}
}

func TestCreateMatch_Validation(t *testing.T) {
	db := setupTestDB(t)
	tests := []struct {
		name  string
		match models.Match
		field string
	}{
		{"self match", models.Match{UserAID: "a", UserBID: "a"}, "counterpart_id"},
		{"missing party", models.Match{UserAID: "a"}, "counterpart_id"},
		{"bad status", models.Match{UserAID: "a", UserBID: "b", Status: "maybe"}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.CreateMatch(context.Background(), tt.match)
			var verr *models.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("CreateMatch() error = %v, want validation error on %s", err, tt.field)
			}
		})
	}
}

func TestUpdateMatch_Errors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, _, err := db.UpdateMatch(ctx, "missing", func(*models.Match) error { return nil }); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("UpdateMatch(missing) = %v, want ErrNotFound", err)
	}

	m, err := db.CreateMatch(ctx, models.Match{UserAID: "a", UserBID: "b"})
	if err != nil {
		t.Fatal(err)
	}
	reject := &models.ValidationError{Field: "note", Message: "too long"}
	if _, _, err := db.UpdateMatch(ctx, m.ID, func(*models.Match) error { return reject }); !errors.Is(err, reject) {
		t.Errorf("UpdateMatch(apply error) = %v", err)
	}
	if _, _, err := db.UpdateMatch(ctx, m.ID, func(x *models.Match) error { x.Status = "bogus"; return nil }); !errors.Is(err, models.ErrValidation) {
		t.Errorf("UpdateMatch(bogus status) = %v", err)
	}
	stored, _ := db.GetMatch(ctx, m.ID)
	if !stored.UpdatedAt.Equal(m.UpdatedAt) {
		t.Error("rejected update must not change the row")
	}
}

func TestListMatchesForUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := db.CreateMatch(ctx, models.Match{UserAID: "alice", UserBID: fmt.Sprintf("u%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.CreateMatch(ctx, models.Match{UserAID: "u9", UserBID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateMatch(ctx, models.Match{UserAID: "bob", UserBID: "carol"}); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for offset := 0; ; offset += 4 {
		page, err := db.ListMatchesForUser(ctx, "alice", 4, offset)
		if err != nil {
			t.Fatalf("ListMatchesForUser: %v", err)
		}
		for _, m := range page {
			if !m.HasParticipant("alice") {
				t.Errorf("listed foreign match %+v", m)
			}
			if seen[m.ID] {
				t.Errorf("match %s listed twice", m.ID)
			}
			seen[m.ID] = true
		}
		if len(page) < 4 {
			break
		}
	}
	if len(seen) != 6 {
		t.Errorf("alice has %d matches, want 6", len(seen))
	}

	empty, err := db.ListMatchesForUser(ctx, "nobody", 10, 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("ListMatchesForUser(nobody) = %v, %v", empty, err)
	}
}

func TestProfiles(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.GetProfile(ctx, "alice"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetProfile(missing) = %v", err)
	}
	if err := db.UpsertProfile(ctx, models.Profile{UserID: "alice", DisplayName: "Alice"}); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if err := db.UpsertProfile(ctx, models.Profile{UserID: "alice", DisplayName: "Alice B", Bio: "hello"}); err != nil {
		t.Fatalf("UpsertProfile (replace): %v", err)
	}
	p, err := db.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.DisplayName != "Alice B" || p.Bio != "hello" || p.AvatarURL != "" {
		t.Errorf("GetProfile() = %+v", p)
	}

	if err := db.UpsertProfile(ctx, models.Profile{UserID: "bob"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("UpsertProfile(no name) = %v", err)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", sql.ErrNoRows, models.ErrNotFound},
		{"connection", errors.New("dial tcp: connection refused"), models.ErrTransport},
		{"closed", sql.ErrConnDone, models.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError("op", tt.err)
			if tt.want == nil {
				if got != nil {
					t.Errorf("mapError(nil) = %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("mapError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	other := errors.New("syntax error")
	if got := mapError("op", other); !errors.Is(got, other) || errors.Is(got, models.ErrTransport) {
		t.Errorf("mapError(other) = %v", got)
	}
}

func TestIsTransactionConflict(t *testing.T) {
	if !isTransactionConflict(errors.New("TransactionContext Error: Transaction conflict: cannot update")) {
		t.Error("conflict not detected")
	}
	if isTransactionConflict(errors.New("constraint violation")) || isTransactionConflict(nil) {
		t.Error("false positive")
	}
}
