// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package cache

import (
	"container/list"
	"sync"
	"time"
)

type lruItem[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// LRU is a bounded, thread-safe least recently used map with a per-entry
// time to live. Expired entries are dropped lazily on access.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front is most recently used
	items    map[string]*list.Element
	now      func() time.Time
}

// NewLRU returns an LRU holding at most capacity entries for ttl each.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the live value for key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	it := el.Value.(*lruItem[V])
	if c.now().After(it.expiresAt) {
		c.removeElement(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return it.value, true
}

// Add stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRU[V]) Add(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		it := el.Value.(*lruItem[V])
		it.value, it.expiresAt = value, expiresAt
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&lruItem[V]{key: key, value: value, expiresAt: expiresAt})
	for len(c.items) > c.capacity {
		c.removeElement(c.order.Back())
	}
}

// Remove deletes key and reports whether it was present.
func (c *LRU[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if ok {
		c.removeElement(el)
	}
	return ok
}

// Len returns the number of entries, expired or not.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU[V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*lruItem[V]).key)
}
