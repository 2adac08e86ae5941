// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/optimistic"
	"github.com/tomtom215/tandem/internal/realtime"
)

// State of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

// Session is an authenticated user. A nil *Session means signed out.
type Session struct {
	UserID string
	Token  string
}

// Store is the part of an optimistic engine the manager drives. Every
// *optimistic.Engine satisfies it.
type Store interface {
	Name() string
	Enable(token string)
	Disable()
	Fetch(ctx context.Context) error
	Export() ([]byte, error)
	Import(data []byte) error
}

// Binding is a store built by a Factory.
type Binding struct {
	Store Store
	// Table and Receiver connect the store to the realtime channel. An empty
	// Table leaves the store offline-only.
	Table    string
	Receiver realtime.Receiver
	// Public stores are enabled without a session and never disabled.
	Public bool
}

// Factory builds a store for the first session the manager sees. session is
// nil when the manager is initialized signed out.
type Factory func(session *Session) (Binding, error)

// Channel is the realtime connection shared by the stores of one manager.
type Channel interface {
	Register(table string, r realtime.Receiver) (unregister func())
	Connect(ctx context.Context, token string) error
	Disconnect()
	Close() error
}

// Persister saves store snapshots between sessions.
type Persister interface {
	Save(name string, data []byte) error
	Load(name string) ([]byte, bool, error)
}

type factoryEntry struct {
	name    string
	factory Factory
}

// pendingUpdate is the latest session update received while initializing.
type pendingUpdate struct {
	session *Session
}

// Manager owns the stores of one application area and follows the session.
type Manager struct {
	channel   Channel
	persister Persister

	// sessionMu serializes session transitions.
	sessionMu sync.Mutex

	mu         sync.Mutex
	state      State
	factories  []factoryEntry
	bindings   map[string]Binding
	unregister []func()
	session    *Session
	pending    *pendingUpdate
	ready      chan struct{}
	readyOnce  sync.Once
}

// New creates a manager. channel and persister may be nil.
func New(channel Channel, persister Persister) *Manager {
	return &Manager{
		channel:   channel,
		persister: persister,
		bindings:  make(map[string]Binding),
		ready:     make(chan struct{}),
	}
}

// Add registers a store factory. Factories are built on the first
// UpdateSession; adding one afterwards is an error.
func (m *Manager) Add(name string, f Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUninitialized {
		return fmt.Errorf("add store %s: manager is %s", name, m.state)
	}
	for _, e := range m.factories {
		if e.name == name {
			return fmt.Errorf("add store %s: already registered", name)
		}
	}
	m.factories = append(m.factories, factoryEntry{name: name, factory: f})
	return nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready is closed once the first initialization completes, or the manager
// is disposed.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

func (m *Manager) markReady() { m.readyOnce.Do(func() { close(m.ready) }) }

// Store returns the store registered under name once the manager is ready.
func (m *Manager) Store(name string) (Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[name]
	return b.Store, ok
}

// Engine returns the store under name as a typed engine.
func Engine[T optimistic.Entity](m *Manager, name string) (*optimistic.Engine[T], bool) {
	s, ok := m.Store(name)
	if !ok {
		return nil, false
	}
	e, ok := s.(*optimistic.Engine[T])
	return e, ok
}

// UpdateSession applies a session change. The first call initializes the
// manager: it builds every store, restores cached snapshots, and, with a
// session, enables and fetches the stores and connects the channel. Later
// calls re-enable auth-dependent stores with the new token or, for a nil
// session, disable them and keep their data. Updates arriving while the
// manager initializes are coalesced: only the latest is applied, once ready.
// Updates after Dispose are ignored.
func (m *Manager) UpdateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	switch m.state {
	case StateDisposed:
		m.mu.Unlock()
		logging.Warn().Msg("session update on disposed store manager ignored")
		return nil
	case StateInitializing:
		m.pending = &pendingUpdate{session: session}
		m.mu.Unlock()
		return nil
	case StateReady:
		m.mu.Unlock()
		return m.apply(ctx, session)
	}
	m.state = StateInitializing
	factories := append([]factoryEntry(nil), m.factories...)
	m.mu.Unlock()

	err := m.initialize(ctx, factories, session)

	for {
		m.mu.Lock()
		if m.state == StateDisposed {
			m.mu.Unlock()
			m.markReady()
			return errors.Join(err, m.teardown())
		}
		next := m.pending
		m.pending = nil
		if next == nil {
			m.state = StateReady
			m.mu.Unlock()
			m.markReady()
			return err
		}
		m.mu.Unlock()
		err = m.apply(ctx, next.session)
	}
}

func (m *Manager) initialize(ctx context.Context, factories []factoryEntry, session *Session) error {
	var errs []error
	bindings := make(map[string]Binding, len(factories))
	for _, f := range factories {
		b, err := f.factory(session)
		if err != nil {
			errs = append(errs, fmt.Errorf("build store %s: %w", f.name, err))
			continue
		}
		if b.Store == nil {
			errs = append(errs, fmt.Errorf("build store %s: factory returned no store", f.name))
			continue
		}
		m.restore(b.Store)
		bindings[f.name] = b
	}

	var unregister []func()
	if m.channel != nil {
		for _, name := range sortedNames(bindings) {
			b := bindings[name]
			if b.Table != "" && b.Receiver != nil {
				unregister = append(unregister, m.channel.Register(b.Table, b.Receiver))
			}
		}
	}

	m.mu.Lock()
	m.bindings = bindings
	m.unregister = unregister
	m.mu.Unlock()

	for _, name := range sortedNames(bindings) {
		if b := bindings[name]; b.Public {
			b.Store.Enable("")
			errs = append(errs, fetch(ctx, b.Store))
		}
	}
	errs = append(errs, m.apply(ctx, session))
	logging.Info().Int("stores", len(bindings)).Bool("session", session != nil).Msg("Store manager initialized")
	return errors.Join(errs...)
}

// restore imports the persisted snapshot of a store, if any. The store name
// is the cache partition.
func (m *Manager) restore(s Store) {
	if m.persister == nil {
		return
	}
	name := s.Name()
	data, ok, err := m.persister.Load(name)
	if err != nil {
		logging.Warn().Err(err).Str("store", name).Msg("failed to load cached store snapshot")
		return
	}
	if !ok {
		return
	}
	if err := s.Import(data); err != nil {
		logging.Warn().Err(err).Str("store", name).Msg("discarding unreadable cached store snapshot")
	}
}

func (m *Manager) persist(s Store) {
	if m.persister == nil {
		return
	}
	data, err := s.Export()
	if err == nil {
		err = m.persister.Save(s.Name(), data)
	}
	if err != nil {
		logging.Warn().Err(err).Str("store", s.Name()).Msg("failed to persist store snapshot")
	}
}

// apply moves a ready manager to session.
func (m *Manager) apply(ctx context.Context, session *Session) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	m.mu.Lock()
	prev := m.session
	m.session = session
	bindings := m.authBindings()
	m.mu.Unlock()

	if session == nil {
		for _, b := range bindings {
			b.Store.Disable()
			m.persist(b.Store)
		}
		if m.channel != nil && prev != nil {
			m.channel.Disconnect()
		}
		logging.Debug().Msg("Store manager signed out")
		return nil
	}

	var errs []error
	for _, b := range bindings {
		b.Store.Enable(session.Token)
	}
	// Data is reloaded when a session starts or changes user, not on a
	// token refresh.
	if prev == nil || prev.UserID != session.UserID {
		for _, b := range bindings {
			errs = append(errs, fetch(ctx, b.Store))
		}
	}
	if m.channel != nil {
		if err := m.channel.Connect(ctx, session.Token); err != nil {
			errs = append(errs, fmt.Errorf("connect realtime channel: %w", err))
		}
	}
	logging.Debug().Str("user_id", session.UserID).Msg("Store manager session applied")
	return errors.Join(errs...)
}

func fetch(ctx context.Context, s Store) error {
	err := s.Fetch(ctx)
	if err == nil || errors.Is(err, optimistic.ErrNoQuery) {
		return nil
	}
	logging.Warn().Err(err).Str("store", s.Name()).Msg("store fetch failed, serving cached data")
	return err
}

// authBindings returns the bindings that follow the session, by name.
func (m *Manager) authBindings() []Binding {
	out := make([]Binding, 0, len(m.bindings))
	for _, name := range sortedNames(m.bindings) {
		if b := m.bindings[name]; !b.Public {
			out = append(out, b)
		}
	}
	return out
}

// Dispose persists and disables every store and closes the channel. The
// manager cannot be used afterwards. Disposing twice is a no-op.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	prev := m.state
	if prev == StateDisposed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDisposed
	m.mu.Unlock()

	// An initializing manager tears itself down when initialization ends.
	if prev == StateInitializing {
		return nil
	}
	m.markReady()
	return m.teardown()
}

func (m *Manager) teardown() error {
	m.mu.Lock()
	bindings := m.bindings
	unregister := m.unregister
	m.unregister = nil
	m.mu.Unlock()

	for _, fn := range unregister {
		fn()
	}
	for _, name := range sortedNames(bindings) {
		b := bindings[name]
		m.persist(b.Store)
		b.Store.Disable()
	}
	var err error
	if m.channel != nil {
		err = m.channel.Close()
	}
	logging.Info().Int("stores", len(bindings)).Msg("Store manager disposed")
	return err
}

func sortedNames(bindings map[string]Binding) []string {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ Store = (*optimistic.Engine[models.MatchView])(nil)
