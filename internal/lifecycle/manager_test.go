// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package lifecycle

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/tandem/internal/cache"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/optimistic"
	"github.com/tomtom215/tandem/internal/realtime"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type fakeChannel struct {
	mu          sync.Mutex
	tables      []string
	tokens      []string
	disconnects int
	closed      bool
	connectErr  error
}

func (c *fakeChannel) Register(table string, _ realtime.Receiver) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = append(c.tables, table)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, t := range c.tables {
			if t == table {
				c.tables = append(c.tables[:i], c.tables[i+1:]...)
				return
			}
		}
	}
}

func (c *fakeChannel) Connect(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
	return c.connectErr
}

func (c *fakeChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) snapshot() (tables, tokens []string, disconnects int, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tables...), append([]string(nil), c.tokens...), c.disconnects, c.closed
}

type matchesFixture struct {
	queries atomic.Int32
	gate    chan struct{}
	engine  *optimistic.Engine[models.MatchView]
	builds  atomic.Int32
}

func (f *matchesFixture) factory(session *Session) (Binding, error) {
	f.builds.Add(1)
	engine, err := optimistic.New(optimistic.Config[models.MatchView]{
		Name: models.TableMatches,
		QueryFn: func(ctx context.Context) ([]models.MatchView, error) {
			f.queries.Add(1)
			if f.gate != nil {
				<-f.gate
			}
			now := time.Now().UTC()
			return []models.MatchView{{Match: models.Match{ID: "m1", UserAID: "alice", UserBID: "bob", Status: models.MatchPending, CreatedAt: now, UpdatedAt: now}}}, nil
		},
	})
	if err != nil {
		return Binding{}, err
	}
	f.engine = engine
	return Binding{Store: engine, Table: models.TableMatches, Receiver: realtime.Bind(engine, nil)}, nil
}

func newFixture(t *testing.T, persister Persister) (*Manager, *fakeChannel, *matchesFixture) {
	t.Helper()
	ch := &fakeChannel{}
	fx := &matchesFixture{}
	m := New(ch, persister)
	if err := m.Add(models.TableMatches, fx.factory); err != nil {
		t.Fatal(err)
	}
	return m, ch, fx
}

func memoryCache(t *testing.T) *cache.Partitions {
	t.Helper()
	p, err := cache.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestManager_LazyInitWithSession(t *testing.T) {
	m, ch, fx := newFixture(t, nil)
	if m.State() != StateUninitialized {
		t.Fatalf("state = %s", m.State())
	}
	if _, ok := m.Store(models.TableMatches); ok {
		t.Fatal("store built before the first session update")
	}

	if err := m.UpdateSession(context.Background(), &Session{UserID: "alice", Token: "t1"}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("state = %s, want ready", m.State())
	}
	select {
	case <-m.Ready():
	default:
		t.Error("Ready not closed")
	}

	engine, ok := Engine[models.MatchView](m, models.TableMatches)
	if !ok || engine != fx.engine {
		t.Fatal("Engine lookup did not return the built store")
	}
	if !engine.Enabled() || engine.Token() != "t1" {
		t.Errorf("engine enabled %v token %q", engine.Enabled(), engine.Token())
	}
	if _, ok := engine.Get("m1"); !ok {
		t.Error("store not fetched")
	}
	tables, tokens, _, _ := ch.snapshot()
	if len(tables) != 1 || tables[0] != models.TableMatches {
		t.Errorf("registered tables = %v", tables)
	}
	if len(tokens) != 1 || tokens[0] != "t1" {
		t.Errorf("channel tokens = %v", tokens)
	}
}

func TestManager_SignOutKeepsData(t *testing.T) {
	persister := memoryCache(t)
	m, ch, fx := newFixture(t, persister)
	ctx := context.Background()
	if err := m.UpdateSession(ctx, &Session{UserID: "alice", Token: "t1"}); err != nil {
		t.Fatal(err)
	}

	if err := m.UpdateSession(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if fx.engine.Enabled() {
		t.Error("engine still enabled after sign-out")
	}
	if fx.engine.Len() != 1 {
		t.Errorf("sign-out dropped cached data: len %d", fx.engine.Len())
	}
	if _, ok, _ := persister.Load(models.TableMatches); !ok {
		t.Error("snapshot not persisted on sign-out")
	}
	if _, _, disconnects, _ := ch.snapshot(); disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
}

func TestManager_TokenRefreshDoesNotRefetch(t *testing.T) {
	m, ch, fx := newFixture(t, nil)
	ctx := context.Background()
	if err := m.UpdateSession(ctx, &Session{UserID: "alice", Token: "t1"}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateSession(ctx, &Session{UserID: "alice", Token: "t2"}); err != nil {
		t.Fatal(err)
	}
	if fx.engine.Token() != "t2" {
		t.Errorf("token = %q, want t2", fx.engine.Token())
	}
	if fx.queries.Load() != 1 {
		t.Errorf("queries = %d, want 1", fx.queries.Load())
	}
	if _, tokens, _, _ := ch.snapshot(); len(tokens) != 2 || tokens[1] != "t2" {
		t.Errorf("channel tokens = %v", tokens)
	}

	if err := m.UpdateSession(ctx, &Session{UserID: "bob", Token: "t3"}); err != nil {
		t.Fatal(err)
	}
	if fx.queries.Load() != 2 {
		t.Errorf("user change did not refetch: queries = %d", fx.queries.Load())
	}
	if fx.builds.Load() != 1 {
		t.Errorf("factory built %d times, want 1", fx.builds.Load())
	}
}

func TestManager_CoalescesUpdatesDuringInit(t *testing.T) {
	m, _, fx := newFixture(t, nil)
	fx.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- m.UpdateSession(ctx, &Session{UserID: "alice", Token: "t1"}) }()
	deadline := time.Now().Add(5 * time.Second)
	for fx.queries.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initialization never reached the fetch")
		}
		time.Sleep(time.Millisecond)
	}
	if m.State() != StateInitializing {
		t.Fatalf("state = %s, want initializing", m.State())
	}

	if err := m.UpdateSession(ctx, &Session{UserID: "alice", Token: "t2"}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateSession(ctx, &Session{UserID: "alice", Token: "t3"}); err != nil {
		t.Fatal(err)
	}
	close(fx.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if m.State() != StateReady {
		t.Fatalf("state = %s", m.State())
	}
	if fx.engine.Token() != "t3" {
		t.Errorf("token = %q, want the last coalesced update t3", fx.engine.Token())
	}
	if fx.builds.Load() != 1 {
		t.Errorf("builds = %d, want 1", fx.builds.Load())
	}
}

func TestManager_RestoresCacheSignedOut(t *testing.T) {
	persister := memoryCache(t)
	now := time.Now().UTC()
	seed, err := optimistic.New(optimistic.Config[models.MatchView]{Name: models.TableMatches})
	if err != nil {
		t.Fatal(err)
	}
	seed.Enable("x")
	seed.ApplyPush(models.OpInsert, models.MatchView{Match: models.Match{ID: "cached", UserAID: "alice", UserBID: "bob", Status: models.MatchAccepted, CreatedAt: now, UpdatedAt: now}})
	data, err := seed.Export()
	if err != nil {
		t.Fatal(err)
	}
	if err := persister.Save(models.TableMatches, data); err != nil {
		t.Fatal(err)
	}

	m, ch, fx := newFixture(t, persister)
	if err := m.UpdateSession(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := fx.engine.Get("cached"); !ok {
		t.Error("cached snapshot not restored")
	}
	if fx.engine.Enabled() || fx.queries.Load() != 0 {
		t.Errorf("signed-out init enabled %v, queries %d", fx.engine.Enabled(), fx.queries.Load())
	}
	if _, tokens, disconnects, _ := ch.snapshot(); len(tokens) != 0 || disconnects != 0 {
		t.Errorf("channel touched without a session: tokens %v disconnects %d", tokens, disconnects)
	}
}

func TestManager_Dispose(t *testing.T) {
	persister := memoryCache(t)
	m, ch, fx := newFixture(t, persister)
	ctx := context.Background()
	if err := m.UpdateSession(ctx, &Session{UserID: "alice", Token: "t1"}); err != nil {
		t.Fatal(err)
	}

	if err := m.Dispose(); err != nil {
		t.Fatal(err)
	}
	if m.State() != StateDisposed {
		t.Fatalf("state = %s", m.State())
	}
	tables, _, _, closed := ch.snapshot()
	if !closed || len(tables) != 0 {
		t.Errorf("channel closed %v, tables %v", closed, tables)
	}
	if fx.engine.Enabled() {
		t.Error("engine enabled after dispose")
	}
	if _, ok, _ := persister.Load(models.TableMatches); !ok {
		t.Error("snapshot not persisted on dispose")
	}

	if err := m.UpdateSession(ctx, &Session{UserID: "alice", Token: "t2"}); err != nil {
		t.Errorf("update after dispose = %v, want nil", err)
	}
	if fx.engine.Enabled() {
		t.Error("update after dispose re-enabled the store")
	}
	if err := m.Dispose(); err != nil {
		t.Errorf("second Dispose: %v", err)
	}
}

func TestManager_DisposeDuringInit(t *testing.T) {
	m, ch, fx := newFixture(t, nil)
	fx.gate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- m.UpdateSession(context.Background(), &Session{UserID: "alice", Token: "t1"}) }()
	for fx.queries.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := m.Dispose(); err != nil {
		t.Fatal(err)
	}
	close(fx.gate)
	<-done

	if m.State() != StateDisposed {
		t.Errorf("state = %s, want disposed", m.State())
	}
	if _, _, _, closed := ch.snapshot(); !closed {
		t.Error("channel not closed after init finished")
	}
	if fx.engine.Enabled() {
		t.Error("engine left enabled")
	}
}

func TestManager_Add(t *testing.T) {
	m, _, fx := newFixture(t, nil)
	if err := m.Add(models.TableMatches, fx.factory); err == nil {
		t.Error("duplicate Add succeeded")
	}
	if err := m.UpdateSession(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Add("profiles", fx.factory); err == nil {
		t.Error("Add after init succeeded")
	}
}

func TestManager_PublicStoreIgnoresSession(t *testing.T) {
	var fetched atomic.Int32
	public, err := optimistic.New(optimistic.Config[models.MatchView]{
		Name: "directory",
		QueryFn: func(context.Context) ([]models.MatchView, error) {
			fetched.Add(1)
			return nil, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	m := New(nil, nil)
	if err := m.Add("directory", func(*Session) (Binding, error) {
		return Binding{Store: public, Public: true}, nil
	}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := m.UpdateSession(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if !public.Enabled() || fetched.Load() != 1 {
		t.Errorf("public store enabled %v fetched %d", public.Enabled(), fetched.Load())
	}
	if err := m.UpdateSession(ctx, &Session{UserID: "alice", Token: "t"}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateSession(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if !public.Enabled() {
		t.Error("public store disabled on sign-out")
	}
}

func TestManager_ChannelErrorSurfaces(t *testing.T) {
	m, ch, fx := newFixture(t, nil)
	ch.connectErr = models.ErrAuthentication
	err := m.UpdateSession(context.Background(), &Session{UserID: "alice", Token: "bad"})
	if !errors.Is(err, models.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if m.State() != StateReady || fx.engine.Len() != 1 {
		t.Errorf("state %s len %d: stores should still be served", m.State(), fx.engine.Len())
	}
}
