// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package store provides the ordered, duplicate-free entity collection that
// backs every client-side optimistic store.
package store

import (
	"sort"
	"sync"
)

// KeyFunc extracts the identifier of an entity.
type KeyFunc[T any] func(T) string

// Option configures a Collection.
type Option[T any] func(*Collection[T])

// WithIndex registers a secondary index. fn maps an entity to its index key;
// entities mapping to "" are not indexed.
func WithIndex[T any](name string, fn func(T) string) Option[T] {
	return func(c *Collection[T]) {
		c.indexFns[name] = fn
		c.indexes[name] = make(map[string]map[string]struct{})
	}
}

// Collection is an ordered set of entities keyed by identifier.
//
// Key features:
//   - O(1) Get and Upsert of existing entries
//   - Insertion order preserved; new entries append
//   - No two entries ever share an identifier
//   - Optional caller-supplied secondary indexes
//
// All methods are safe for concurrent use.
type Collection[T any] struct {
	mu sync.RWMutex

	key   KeyFunc[T]
	items []T

	// pos maps identifier to index in items
	pos map[string]int

	indexFns map[string]func(T) string
	// indexes[name][indexKey] is the set of identifiers with that key
	indexes map[string]map[string]map[string]struct{}
}

// New creates an empty collection.
func New[T any](key KeyFunc[T], opts ...Option[T]) *Collection[T] {
	c := &Collection[T]{
		key:      key,
		pos:      make(map[string]int),
		indexFns: make(map[string]func(T) string),
		indexes:  make(map[string]map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the entity with the given id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.pos[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.items[i], true
}

// Has reports whether id is present.
func (c *Collection[T]) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pos[id]
	return ok
}

// IndexOf returns the position of id, or -1.
func (c *Collection[T]) IndexOf(id string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i, ok := c.pos[id]; ok {
		return i
	}
	return -1
}

// Upsert inserts e if its identifier is absent, otherwise replaces the
// existing entry in place. Reports whether e was newly inserted.
func (c *Collection[T]) Upsert(e T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upsertLocked(e)
}

func (c *Collection[T]) upsertLocked(e T) bool {
	id := c.key(e)
	if i, ok := c.pos[id]; ok {
		c.unindexLocked(id, c.items[i])
		c.items[i] = e
		c.indexLocked(id, e)
		return false
	}
	c.pos[id] = len(c.items)
	c.items = append(c.items, e)
	c.indexLocked(id, e)
	return true
}

// InsertAt inserts e at position pos, clamped to [0, Len]. If e's identifier
// is already present the existing entry is replaced in place and pos is
// ignored.
func (c *Collection[T]) InsertAt(pos int, e T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.key(e)
	if _, ok := c.pos[id]; ok {
		c.upsertLocked(e)
		return
	}
	if pos < 0 {
		pos = 0
	}
	if pos > len(c.items) {
		pos = len(c.items)
	}
	var zero T
	c.items = append(c.items, zero)
	copy(c.items[pos+1:], c.items[pos:])
	c.items[pos] = e
	c.reposLocked(pos)
	c.indexLocked(id, e)
}

// Remove deletes the entity with the given id. Removing an absent id is a
// no-op; realtime delivery is at-least-once so duplicates are expected.
func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *Collection[T]) removeLocked(id string) bool {
	i, ok := c.pos[id]
	if !ok {
		return false
	}
	c.unindexLocked(id, c.items[i])
	delete(c.pos, id)

	var zero T
	copy(c.items[i:], c.items[i+1:])
	c.items[len(c.items)-1] = zero
	c.items = c.items[:len(c.items)-1]
	c.reposLocked(i)
	return true
}

// ReplaceIdentifier swaps the entity stored under oldID for e in one step, at
// the same position. If e's identifier is already present (its push echo
// arrived before the create response) the oldID row is dropped and the
// existing row replaced, so the logical record never appears twice. If oldID
// is absent, e is upserted.
func (c *Collection[T]) ReplaceIdentifier(oldID string, e T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newID := c.key(e)
	i, ok := c.pos[oldID]
	switch {
	case !ok:
		c.upsertLocked(e)
	case oldID == newID:
		c.upsertLocked(e)
	default:
		if _, exists := c.pos[newID]; exists {
			c.removeLocked(oldID)
			c.upsertLocked(e)
			return
		}
		c.unindexLocked(oldID, c.items[i])
		delete(c.pos, oldID)
		c.items[i] = e
		c.pos[newID] = i
		c.indexLocked(newID, e)
	}
}

// List returns a copy of all entities in order.
func (c *Collection[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of entities.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Replace discards the current contents and loads all. Later duplicates of an
// identifier replace earlier ones in place.
func (c *Collection[T]) Replace(all []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make([]T, 0, len(all))
	c.pos = make(map[string]int, len(all))
	for name := range c.indexes {
		c.indexes[name] = make(map[string]map[string]struct{})
	}
	for _, e := range all {
		c.upsertLocked(e)
	}
}

// Lookup returns the entities whose index key under name equals key, in
// collection order. An unknown index yields nil.
func (c *Collection[T]) Lookup(name, key string) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.indexes[name][key]
	if len(ids) == 0 {
		return nil
	}
	positions := make([]int, 0, len(ids))
	for id := range ids {
		positions = append(positions, c.pos[id])
	}
	sort.Ints(positions)

	out := make([]T, len(positions))
	for j, p := range positions {
		out[j] = c.items[p]
	}
	return out
}

// reposLocked refreshes pos for items[from:].
func (c *Collection[T]) reposLocked(from int) {
	for i := from; i < len(c.items); i++ {
		c.pos[c.key(c.items[i])] = i
	}
}

func (c *Collection[T]) indexLocked(id string, e T) {
	for name, fn := range c.indexFns {
		k := fn(e)
		if k == "" {
			continue
		}
		set := c.indexes[name][k]
		if set == nil {
			set = make(map[string]struct{})
			c.indexes[name][k] = set
		}
		set[id] = struct{}{}
	}
}

func (c *Collection[T]) unindexLocked(id string, e T) {
	for name, fn := range c.indexFns {
		k := fn(e)
		if k == "" {
			continue
		}
		if set := c.indexes[name][k]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(c.indexes[name], k)
			}
		}
	}
}
