// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package cache

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
)

const keyPrefix = "partition:"

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("cache: closed")

// Partitions persists one opaque snapshot per store name.
type Partitions struct {
	mu     sync.RWMutex
	db     *badger.DB
	path   string
	closed bool
}

// Open opens (or creates) the cache at path. An empty path keeps the cache in
// memory for the lifetime of the process.
func Open(path string) (*Partitions, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	logging.Debug().Str("path", path).Bool("in_memory", path == "").Msg("Cache opened")
	return &Partitions{db: db, path: path}, nil
}

func partitionKey(name string) []byte { return []byte(keyPrefix + name) }

// Save replaces the snapshot of partition name.
func (p *Partitions) Save(name string, data []byte) (err error) {
	defer func() { observe("save", err) }()
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if name == "" {
		return errors.New("cache: partition name is required")
	}
	if err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(partitionKey(name), data)
	}); err != nil {
		return fmt.Errorf("save partition %s: %w", name, err)
	}
	return nil
}

// Load returns the snapshot of partition name. ok is false when nothing has
// been saved under it.
func (p *Partitions) Load(name string) (data []byte, ok bool, err error) {
	defer func() { observe("load", err) }()
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, false, ErrClosed
	}
	err = p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(partitionKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		ok = err == nil
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("load partition %s: %w", name, err)
	}
	return data, ok, nil
}

// Delete drops partition name. Deleting a missing partition is not an error.
func (p *Partitions) Delete(name string) (err error) {
	defer func() { observe("delete", err) }()
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(partitionKey(name))
	}); err != nil {
		return fmt.Errorf("delete partition %s: %w", name, err)
	}
	return nil
}

// Names lists the saved partitions in lexical order.
func (p *Partitions) Names() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}
	var names []string
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close flushes and closes the cache. It is safe to call more than once.
func (p *Partitions) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.CachePartitionOps.WithLabelValues(op, result).Inc()
}
