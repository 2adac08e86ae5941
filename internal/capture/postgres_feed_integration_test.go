// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

//go:build integration

package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/testinfra"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestPostgresFeed_TriggerToRecipients(t *testing.T) {
	testinfra.SkipIfNoDocker(t)
	ctx := context.Background()

	pg, err := testinfra.NewPostgresContainer(ctx, testinfra.WithTestLogger(t))
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, pg)

	db, err := database.New(ctx, &config.DatabaseConfig{
		Driver:       config.DriverPostgres,
		DSN:          pg.DSN,
		MaxOpenConns: 4,
		Migrate:      true,
	}, database.WithNotifyChannel("tandem_changes"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	defer db.Close()

	for _, p := range []models.Profile{{UserID: "alice", DisplayName: "Alice"}, {UserID: "bob", DisplayName: "Bob"}} {
		if err := db.UpsertProfile(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	rec := &recorder{}
	bridge := NewBridge(DefaultConfig(), db, db, rec)
	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- bridge.Serve(runCtx, NewPostgresFeed(pg.DSN, "tandem_changes")) }()

	// LISTEN is issued asynchronously; retry until notifications flow.
	waitFor(t, "listener", func() bool {
		if rec.count() > 0 {
			return true
		}
		if _, err := db.CreateMatch(ctx, models.Match{UserAID: "alice", UserBID: "bob", Note: "warmup"}); err != nil {
			t.Fatal(err)
		}
		return false
	})
	waitFor(t, "warmup deliveries to settle", func() bool { return rec.count()%2 == 0 })
	baseline := rec.count()

	m, err := db.CreateMatch(ctx, models.Match{UserAID: "alice", UserBID: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.UpdateMatch(ctx, m.ID, func(x *models.Match) error {
		x.Status = models.MatchAccepted
		x.Note = strings.Repeat("x", 9000) // forces a truncated notification
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.DeleteMatch(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	// insert + update + delete, two recipients each. The truncated update is
	// resolved by lookup; the row may already be deleted by then, in which
	// case the update is dropped.
	waitFor(t, "delete delivery", func() bool {
		for _, evt := range rec.forUser("bob") {
			if evt.Operation == models.OpDelete && strings.Contains(string(evt.OldRow), m.ID) {
				return true
			}
		}
		return false
	})
	if rec.count()-baseline < 4 {
		t.Errorf("deliveries = %d, want at least insert and delete for both parties", rec.count()-baseline)
	}
	for _, evt := range rec.forUser("alice") {
		if evt.Operation == models.OpInsert && (evt.Context == nil || evt.Context.Counterpart == nil || evt.Context.Counterpart.UserID != "bob") {
			t.Errorf("alice's insert context = %+v, want bob", evt.Context)
		}
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
}
