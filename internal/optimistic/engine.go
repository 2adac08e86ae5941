// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package optimistic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/store"
)

// Kind is the kind of a pending mutation.
type Kind int

const (
	KindCreate Kind = iota
	KindUpdate
	KindRemove
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindRemove:
		return "remove"
	}
	return "unknown"
}

// Status is the observable pending state of an engine. It is derived from
// in-flight work and cannot be set directly.
type Status struct {
	Loading  bool
	Creating int
	Updating int
	Deleting int
}

// IsPending reports whether any mutation is outstanding.
func (s Status) IsPending() bool {
	return s.Creating+s.Updating+s.Deleting > 0
}

// Engine is an optimistic entity store. It owns its Collection exclusively;
// nothing else mutates it.
type Engine[T Entity] struct {
	cfg   Config[T]
	items *store.Collection[T]
	now   func() time.Time

	// mu serializes compound store updates. Network calls never run under it.
	mu       sync.Mutex
	entries  map[string]*entry[T]
	aliases  map[string]string // temp id -> durable id
	deferred []deferredPush[T]
	enabled  bool
	token    string
	counts   [3]int
	loading  int

	lmu       sync.Mutex
	listeners map[int]func()
	nextLID   int
}

// New validates cfg and returns a disabled engine.
func New[T Entity](cfg Config[T]) (*Engine[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts := make([]store.Option[T], 0, len(cfg.Indexes))
	for name, fn := range cfg.Indexes {
		opts = append(opts, store.WithIndex[T](name, fn))
	}
	return &Engine[T]{
		cfg:       cfg,
		items:     store.New[T](func(e T) string { return e.EntityKey() }, opts...),
		now:       time.Now,
		entries:   make(map[string]*entry[T]),
		aliases:   make(map[string]string),
		listeners: make(map[int]func()),
	}, nil
}

// Name returns the store name.
func (e *Engine[T]) Name() string { return e.cfg.Name }

// Enable allows network activity using token.
func (e *Engine[T]) Enable(token string) {
	e.mu.Lock()
	e.enabled = true
	e.token = token
	e.mu.Unlock()
	if e.cfg.Authorize != nil {
		e.cfg.Authorize(token)
	}
	e.notify()
}

// Disable suspends network activity. Cached entities are kept.
func (e *Engine[T]) Disable() {
	e.mu.Lock()
	e.enabled = false
	e.token = ""
	e.mu.Unlock()
	if e.cfg.Authorize != nil {
		e.cfg.Authorize("")
	}
	e.notify()
}

// Enabled reports whether the store currently has a session.
func (e *Engine[T]) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Get returns the visible entity for id. A temporary id is absent once its
// create has been confirmed.
func (e *Engine[T]) Get(id string) (T, bool) { return e.items.Get(id) }

// List returns all visible entities in store order.
func (e *Engine[T]) List() []T { return e.items.List() }

// Len returns the number of visible entities.
func (e *Engine[T]) Len() int { return e.items.Len() }

// Lookup queries a secondary index declared in Config.Indexes.
func (e *Engine[T]) Lookup(index, key string) []T { return e.items.Lookup(index, key) }

// Status returns the current pending state.
func (e *Engine[T]) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Loading:  e.loading > 0,
		Creating: e.counts[KindCreate],
		Updating: e.counts[KindUpdate],
		Deleting: e.counts[KindRemove],
	}
}

// IsPending reports whether any mutation is outstanding.
func (e *Engine[T]) IsPending() bool { return e.Status().IsPending() }

// OnChange registers fn to be called after every visible state or status
// change. The returned func unregisters it. fn must not block.
func (e *Engine[T]) OnChange(fn func()) (unsubscribe func()) {
	e.lmu.Lock()
	id := e.nextLID
	e.nextLID++
	e.listeners[id] = fn
	e.lmu.Unlock()
	return func() {
		e.lmu.Lock()
		delete(e.listeners, id)
		e.lmu.Unlock()
	}
}

func (e *Engine[T]) notify() {
	e.lmu.Lock()
	fns := make([]func(), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.lmu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *Engine[T]) checkEnabled() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled {
		return fmt.Errorf("%s: %w", e.cfg.Name, models.ErrStoreDisabled)
	}
	return nil
}

// Fetch loads the full list through QueryFn. Entities missing from the
// result that have no pending mutation are dropped.
func (e *Engine[T]) Fetch(ctx context.Context) error {
	if e.cfg.QueryFn == nil {
		return ErrNoQuery
	}
	if err := e.checkEnabled(); err != nil {
		return err
	}
	e.setLoading(1)
	defer e.setLoading(-1)

	rows, err := e.cfg.QueryFn(ctx)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", e.cfg.Name, err)
	}

	e.mu.Lock()
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		row = e.cfg.toUI(row)
		seen[row.EntityKey()] = struct{}{}
		if !e.holdLocked(models.OpUpdate, row) {
			e.ingestLocked(models.OpUpdate, row)
		}
	}
	for _, cur := range e.items.List() {
		id := cur.EntityKey()
		if _, ok := seen[id]; ok || models.IsTempID(id) {
			continue
		}
		if ent := e.entries[id]; ent != nil && len(ent.layers) > 0 {
			continue
		}
		e.items.Remove(id)
		delete(e.entries, id)
	}
	e.mu.Unlock()

	logging.Debug().Str("store", e.cfg.Name).Int("rows", len(rows)).Msg("store fetched")
	e.notify()
	return nil
}

// LoadChunks streams up to total entities in pages of chunk, merging each
// page as it arrives. It stops early on a short page and returns the number
// of entities merged.
func (e *Engine[T]) LoadChunks(ctx context.Context, total, chunk int) (int, error) {
	if e.cfg.ChunkFn == nil {
		return 0, errNoChunk
	}
	if err := e.checkEnabled(); err != nil {
		return 0, err
	}
	if chunk <= 0 {
		chunk = total
	}
	e.setLoading(1)
	defer e.setLoading(-1)

	loaded := 0
	for loaded < total {
		limit := chunk
		if rem := total - loaded; rem < limit {
			limit = rem
		}
		rows, err := e.cfg.ChunkFn(ctx, limit, loaded)
		if err != nil {
			return loaded, fmt.Errorf("load %s chunk at offset %d: %w", e.cfg.Name, loaded, err)
		}
		e.mu.Lock()
		for _, row := range rows {
			row = e.cfg.toUI(row)
			if !e.holdLocked(models.OpUpdate, row) {
				e.ingestLocked(models.OpUpdate, row)
			}
		}
		e.mu.Unlock()
		loaded += len(rows)
		e.notify()
		if len(rows) < limit {
			break
		}
	}
	return loaded, nil
}

func (e *Engine[T]) setLoading(delta int) {
	e.mu.Lock()
	e.loading += delta
	e.mu.Unlock()
	e.notify()
}

// Export serializes confirmed entities for persistence. Unconfirmed creates
// are skipped.
func (e *Engine[T]) Export() ([]byte, error) {
	all := e.items.List()
	out := make([]T, 0, len(all))
	for _, it := range all {
		if !models.IsTempID(it.EntityKey()) {
			out = append(out, it)
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", e.cfg.Name, err)
	}
	return data, nil
}

// Import replaces the cache with a snapshot produced by Export. It fails if
// any mutation is pending.
func (e *Engine[T]) Import(data []byte) error {
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("import %s: %w", e.cfg.Name, err)
	}

	e.mu.Lock()
	if e.counts[KindCreate]+e.counts[KindUpdate]+e.counts[KindRemove] > 0 {
		e.mu.Unlock()
		return fmt.Errorf("import %s: mutations pending", e.cfg.Name)
	}
	e.items.Replace(rows)
	e.entries = make(map[string]*entry[T], len(rows))
	for _, row := range e.items.List() {
		e.entries[row.EntityKey()] = &entry[T]{id: row.EntityKey(), base: row, hasBase: true, acked: row.Revision()}
	}
	e.mu.Unlock()

	e.notify()
	return nil
}

// Token returns the session token the store was last enabled with.
func (e *Engine[T]) Token() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

func (e *Engine[T]) record(kind Kind, outcome string) {
	metrics.StoreMutations.WithLabelValues(e.cfg.Name, kind.String(), outcome).Inc()
}
