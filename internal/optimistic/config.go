// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package optimistic

import (
	"context"
	"errors"
	"time"
)

// Entity is a record with a stable identifier and a server revision.
// Revision is the server timestamp of the last confirmed write; optimistic
// entities may carry a speculative value.
type Entity interface {
	EntityKey() string
	Revision() time.Time
}

// Mutations are the network calls backing a store. Any of them may be nil,
// in which case the corresponding engine operation is unavailable.
type Mutations[T Entity] struct {
	// Create persists a draft and returns the durable entity.
	Create func(ctx context.Context, draft T) (T, error)
	// Update persists the full optimistic state of id and returns the
	// server-confirmed entity.
	Update func(ctx context.Context, id string, entity T) (T, error)
	// Remove deletes id. Returning models.ErrNotFound counts as success.
	Remove func(ctx context.Context, id string) error
}

// Transformer adapts entities at the store boundary.
type Transformer[T Entity] struct {
	// ToUI is applied to every server-originated entity before it is stored.
	ToUI func(T) T
	// ToAPI is applied to every entity before it is handed to Mutations.
	ToAPI func(T) T
	// OptimisticDefaults builds the speculative entity for Create: it must
	// set the identifier to tempID and fill speculative timestamps from now.
	OptimisticDefaults func(draft T, tempID string, now time.Time) T
	// Merge, when set, combines incoming server state with the confirmed
	// state it replaces, so fields the server could not fill are kept.
	Merge func(prev, next T) T
}

// Config describes one store. Name doubles as the cache partition key.
type Config[T Entity] struct {
	Name        string
	QueryFn     func(ctx context.Context) ([]T, error)
	Mutations   Mutations[T]
	Transformer Transformer[T]
	// ChunkFn fetches one page for bulk loads.
	ChunkFn func(ctx context.Context, limit, offset int) ([]T, error)
	// Indexes are secondary lookups by derived key, see Engine.Lookup.
	Indexes map[string]func(T) string
	// Authorize receives the session token whenever the store is enabled.
	Authorize func(token string)
}

var (
	errNoName     = errors.New("optimistic: store name is required")
	errNoDefaults = errors.New("optimistic: Transformer.OptimisticDefaults is required when Mutations.Create is set")
	errNoCreate   = errors.New("optimistic: store has no create mutation")
	errNoUpdate   = errors.New("optimistic: store has no update mutation")
	errNoRemove   = errors.New("optimistic: store has no remove mutation")
	// ErrNoQuery is returned by Fetch on a store without a QueryFn.
	ErrNoQuery    = errors.New("optimistic: store has no query function")
	errNoChunk    = errors.New("optimistic: store has no chunk function")
)

func (c *Config[T]) validate() error {
	if c.Name == "" {
		return errNoName
	}
	if c.Mutations.Create != nil && c.Transformer.OptimisticDefaults == nil {
		return errNoDefaults
	}
	return nil
}

func (c *Config[T]) toUI(e T) T {
	if c.Transformer.ToUI == nil {
		return e
	}
	return c.Transformer.ToUI(e)
}

func (c *Config[T]) merge(prev, next T) T {
	if c.Transformer.Merge == nil {
		return next
	}
	return c.Transformer.Merge(prev, next)
}

func (c *Config[T]) toAPI(e T) T {
	if c.Transformer.ToAPI == nil {
		return e
	}
	return c.Transformer.ToAPI(e)
}
