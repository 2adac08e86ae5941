// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type fakeLookups struct {
	mu         sync.Mutex
	matches    map[string]*models.Match
	profiles   map[string]*models.Profile
	profileErr error
	matchCalls int
}

func newLookups() *fakeLookups {
	return &fakeLookups{
		matches: map[string]*models.Match{},
		profiles: map[string]*models.Profile{
			"alice": {UserID: "alice", DisplayName: "Alice"},
			"bob":   {UserID: "bob", DisplayName: "Bob"},
			"carol": {UserID: "carol", DisplayName: "Carol"},
		},
	}
}

func (f *fakeLookups) GetMatch(_ context.Context, id string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchCalls++
	m, ok := f.matches[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeLookups) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p, nil
}

type delivery struct {
	user  string
	event models.ChangeEvent
}

type recorder struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (r *recorder) Deliver(userID string, msg models.Message) int {
	var evt models.ChangeEvent
	if err := msg.Decode(&evt); err != nil {
		panic(err)
	}
	r.mu.Lock()
	r.deliveries = append(r.deliveries, delivery{user: userID, event: evt})
	r.mu.Unlock()
	return 1
}

func (r *recorder) forUser(user string) []models.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChangeEvent
	for _, d := range r.deliveries {
		if d.user == user {
			out = append(out, d.event)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func match(id, a, b string) *models.Match {
	return &models.Match{ID: id, UserAID: a, UserBID: b, Status: models.MatchPending, UpdatedAt: time.Now()}
}

func TestBridge_PerRecipientCounterpart(t *testing.T) {
	lookups := newLookups()
	rec := &recorder{}
	b := NewBridge(DefaultConfig(), lookups, lookups, rec)

	n := b.Process(context.Background(), models.RowChange{
		Table: models.TableMatches, Operation: models.OpUpdate,
		NewRow: match("m1", "alice", "bob"), OldRow: match("m1", "alice", "bob"),
	})
	if n != 2 {
		t.Fatalf("Process() = %d recipients, want 2", n)
	}

	alice, bob := rec.forUser("alice"), rec.forUser("bob")
	if len(alice) != 1 || len(bob) != 1 {
		t.Fatalf("alice=%d bob=%d deliveries", len(alice), len(bob))
	}
	if got := alice[0].Context.Counterpart; got == nil || got.UserID != "bob" {
		t.Errorf("alice's counterpart = %+v, want bob", got)
	}
	if got := bob[0].Context.Counterpart; got == nil || got.UserID != "alice" {
		t.Errorf("bob's counterpart = %+v, want alice", got)
	}
	if alice[0].ID == "" || alice[0].ID != bob[0].ID {
		t.Error("recipients of one change should share the event id")
	}
}

func TestBridge_IncompleteRowResolved(t *testing.T) {
	lookups := newLookups()
	lookups.matches["m2"] = match("m2", "alice", "carol")
	rec := &recorder{}
	b := NewBridge(DefaultConfig(), lookups, lookups, rec)

	n := b.Process(context.Background(), models.RowChange{
		Table: models.TableMatches, Operation: models.OpUpdate,
		NewRow: &models.Match{ID: "m2"},
	})
	if n != 2 {
		t.Fatalf("Process() = %d, want 2", n)
	}
	if lookups.matchCalls != 1 {
		t.Errorf("GetMatch called %d times, want 1", lookups.matchCalls)
	}
	if len(rec.forUser("carol")) != 1 {
		t.Error("carol did not receive the change")
	}
}

func TestBridge_IncompleteRowUnresolvable(t *testing.T) {
	lookups := newLookups()
	rec := &recorder{}
	b := NewBridge(DefaultConfig(), lookups, lookups, rec)

	n := b.Process(context.Background(), models.RowChange{
		Table: models.TableMatches, Operation: models.OpUpdate,
		NewRow: &models.Match{ID: "gone"},
	})
	if n != 0 || rec.count() != 0 {
		t.Errorf("Process() = %d, deliveries = %d; want nothing delivered", n, rec.count())
	}
}

func TestBridge_DeleteUsesOldRow(t *testing.T) {
	lookups := newLookups()
	rec := &recorder{}
	b := NewBridge(DefaultConfig(), lookups, lookups, rec)

	b.Process(context.Background(), models.RowChange{
		Table: models.TableMatches, Operation: models.OpDelete,
		OldRow: match("m3", "alice", "bob"),
	})
	got := rec.forUser("bob")
	if len(got) != 1 || got[0].Operation != models.OpDelete || len(got[0].OldRow) == 0 {
		t.Fatalf("bob got %+v", got)
	}
	if len(got[0].NewRow) != 0 {
		t.Errorf("delete carried new_row %s", got[0].NewRow)
	}
	if lookups.matchCalls != 0 {
		t.Error("delete with a complete old row should not query the datastore")
	}
}

func TestBridge_TruncatedDeleteRoutedFromEarlierRow(t *testing.T) {
	lookups := newLookups()
	rec := &recorder{}
	b := NewBridge(DefaultConfig(), lookups, lookups, rec)

	b.Process(context.Background(), models.RowChange{
		Table: models.TableMatches, Operation: models.OpInsert,
		NewRow: match("m4", "alice", "carol"),
	})
	n := b.Process(context.Background(), models.RowChange{
		Table: models.TableMatches, Operation: models.OpDelete,
		OldRow: &models.Match{ID: "m4"},
	})
	if n != 2 {
		t.Fatalf("Process(delete) = %d recipients, want 2", n)
	}
	got := rec.forUser("carol")
	if len(got) != 2 || got[1].Operation != models.OpDelete {
		t.Fatalf("carol got %+v", got)
	}
	var old models.Match
	if err := json.Unmarshal(got[1].OldRow, &old); err != nil {
		t.Fatal(err)
	}
	if old.ID != "m4" || old.UserAID != "alice" || old.UserBID != "carol" {
		t.Errorf("old_row = %+v, want participants filled in", old)
	}
	if lookups.matchCalls != 0 {
		t.Errorf("GetMatch called %d times for a deleted row", lookups.matchCalls)
	}

	// Forgotten once deleted: a repeat notification has nobody to go to.
	if n := b.Process(context.Background(), models.RowChange{
		Table: models.TableMatches, Operation: models.OpDelete,
		OldRow: &models.Match{ID: "m4"},
	}); n != 0 {
		t.Errorf("repeat delete = %d recipients, want 0", n)
	}
}

func TestBridge_LogsCarryComponent(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() {
		logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
	})

	b := NewBridge(DefaultConfig(), newLookups(), newLookups(), &recorder{})
	b.Process(context.Background(), models.RowChange{
		Table: models.TableMatches, Operation: models.OpDelete,
		OldRow: &models.Match{ID: "unknown"},
	})

	var line map[string]interface{}
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(raw, "no recipients resolved") {
			if err := json.Unmarshal([]byte(raw), &line); err != nil {
				t.Fatalf("decode %q: %v", raw, err)
			}
		}
	}
	if line == nil {
		t.Fatalf("no recipients warning not logged:\n%s", buf.String())
	}
	if line["component"] != "capture-bridge" || line["row_id"] != "unknown" || line["operation"] != "delete" {
		t.Errorf("log fields = %v", line)
	}
	if id, _ := line["correlation_id"].(string); id == "" {
		t.Error("bridge log line has no correlation_id")
	}
}

func TestBridge_ProfileFailureStillDelivers(t *testing.T) {
	lookups := newLookups()
	lookups.profileErr = errors.New("connection refused")
	rec := &recorder{}
	b := NewBridge(DefaultConfig(), lookups, lookups, rec)

	n := b.Process(context.Background(), models.RowChange{
		Table: models.TableMatches, Operation: models.OpInsert,
		NewRow: match("m4", "alice", "bob"),
	})
	if n != 2 || rec.count() != 2 {
		t.Fatalf("Process() = %d, deliveries = %d; want 2/2", n, rec.count())
	}
	for _, evt := range rec.forUser("alice") {
		if evt.Context == nil || !evt.Context.Degraded || evt.Context.Counterpart != nil {
			t.Errorf("context = %+v, want degraded without counterpart", evt.Context)
		}
	}
}

func TestBridge_BreakerOpensAfterFailures(t *testing.T) {
	lookups := newLookups()
	lookups.profileErr = errors.New("timeout")
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.BreakerFailures = 2
	b := NewBridge(cfg, lookups, lookups, rec)

	for i := 0; i < 3; i++ {
		b.Process(context.Background(), models.RowChange{
			Table: models.TableMatches, Operation: models.OpInsert,
			NewRow: match(fmt.Sprintf("m%d", i), "alice", "bob"),
		})
	}
	if state := b.profileBreaker.State().String(); state != "open" {
		t.Errorf("breaker state = %s, want open", state)
	}
	// Delivery continues while the breaker is open.
	if rec.count() != 6 {
		t.Errorf("deliveries = %d, want 6", rec.count())
	}
}

func TestBridge_IgnoresOtherTables(t *testing.T) {
	lookups := newLookups()
	rec := &recorder{}
	b := NewBridge(DefaultConfig(), lookups, lookups, rec)

	if n := b.Process(context.Background(), models.RowChange{Table: "profiles", Operation: models.OpUpdate, NewRow: match("x", "a", "b")}); n != 0 {
		t.Errorf("Process(profiles) = %d", n)
	}
	if n := b.Process(context.Background(), models.RowChange{Table: models.TableMatches, Operation: "truncate", NewRow: match("x", "a", "b")}); n != 0 {
		t.Errorf("Process(truncate) = %d", n)
	}
}

// sliceFeed replays a fixed list of changes then waits for cancellation.
type sliceFeed struct {
	changes []models.RowChange
	done    chan struct{}
}

func (f *sliceFeed) Name() string { return "slice" }

func (f *sliceFeed) Run(ctx context.Context, sink func(context.Context, models.RowChange)) error {
	for _, c := range f.changes {
		sink(ctx, c)
	}
	close(f.done)
	<-ctx.Done()
	return ctx.Err()
}

func TestBridge_ServePreservesPerRowOrder(t *testing.T) {
	lookups := newLookups()
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Workers = 4
	b := NewBridge(cfg, lookups, lookups, rec)

	const perRow = 20
	var changes []models.RowChange
	for i := 0; i < perRow; i++ {
		for _, row := range []string{"r1", "r2", "r3"} {
			m := match(row, "alice", "bob")
			m.Note = fmt.Sprintf("%d", i)
			changes = append(changes, models.RowChange{Table: models.TableMatches, Operation: models.OpUpdate, NewRow: m})
		}
	}
	feed := &sliceFeed{changes: changes, done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Serve(ctx, feed) }()
	<-feed.done
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve() = %v", err)
	}

	// Serve drains queues before returning.
	if rec.count() != 2*len(changes) {
		t.Fatalf("deliveries = %d, want %d", rec.count(), 2*len(changes))
	}
	next := map[string]int{}
	for _, evt := range rec.forUser("alice") {
		var m models.Match
		if err := json.Unmarshal(evt.NewRow, &m); err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("%d", next[m.ID]); m.Note != want {
			t.Fatalf("row %s: got note %s, want %s", m.ID, m.Note, want)
		}
		next[m.ID]++
	}
}

func TestShardFor_Stable(t *testing.T) {
	for _, id := range []string{"a", "m1", "00000000-0000-4000-8000-000000000000"} {
		first := shardFor(id, 8)
		for i := 0; i < 5; i++ {
			if got := shardFor(id, 8); got != first {
				t.Fatalf("shardFor(%q) unstable: %d vs %d", id, got, first)
			}
		}
		if first < 0 || first >= 8 {
			t.Fatalf("shardFor(%q) = %d out of range", id, first)
		}
	}
}
