// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package optimistic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
)

// layer is one pending mutation. Layers of an entity form a stack on top of
// its confirmed base; the visible entity is the fold of all layers.
type layer[T Entity] struct {
	kind  Kind
	patch func(T) T // update only
	value T         // create only: the speculative entity

	before    T
	hadBefore bool
	baseVer   uint64 // entry.baseVer when applied
	layerVer  uint64 // entry.layerVer when applied
	pos       int    // store position when applied, for remove rollback

	done    chan struct{}
	dropped bool
}

// entry is the per-entity bookkeeping for confirmed state and pending layers.
type entry[T Entity] struct {
	id      string
	base    T
	hasBase bool
	baseVer uint64

	// acked is the revision of the most recent acknowledged server state.
	acked     time.Time
	tombstone bool

	layers []*layer[T]
	// layerVer changes whenever a layer leaves the stack.
	layerVer uint64
	// tempID is the create-time id still aliased to this entry.
	tempID string
	// tail is closed when the last queued network call settles.
	tail chan struct{}
}

func (en *entry[T]) setBase(v T, ok bool) {
	var zero T
	if !ok {
		v = zero
	}
	en.base, en.hasBase = v, ok
	en.baseVer++
}

// fold applies the first n layers to the base.
func (en *entry[T]) fold(n int) (T, bool) {
	v, ok := en.base, en.hasBase
	for _, l := range en.layers[:n] {
		switch l.kind {
		case KindCreate:
			v, ok = l.value, true
		case KindUpdate:
			if ok {
				v = l.patch(v)
			}
		case KindRemove:
			var zero T
			v, ok = zero, false
		}
	}
	return v, ok
}

func (en *entry[T]) visible() (T, bool) { return en.fold(len(en.layers)) }

func (en *entry[T]) indexOf(l *layer[T]) int {
	for i, x := range en.layers {
		if x == l {
			return i
		}
	}
	return -1
}

func (e *Engine[T]) resolveLocked(id string) string {
	if durable, ok := e.aliases[id]; ok {
		return durable
	}
	return id
}

// pushLayerLocked stacks l on en and returns the predecessor's done channel.
func (e *Engine[T]) pushLayerLocked(en *entry[T], l *layer[T]) <-chan struct{} {
	l.done = make(chan struct{})
	l.baseVer = en.baseVer
	l.layerVer = en.layerVer
	prev := en.tail
	en.tail = l.done
	en.layers = append(en.layers, l)
	e.counts[l.kind]++
	return prev
}

func (e *Engine[T]) dropLayerLocked(en *entry[T], l *layer[T]) {
	if l.dropped {
		return
	}
	if i := en.indexOf(l); i >= 0 {
		en.layers = append(en.layers[:i], en.layers[i+1:]...)
		en.layerVer++
	}
	l.dropped = true
	e.counts[l.kind]--
	if len(en.layers) == 0 && en.tempID != "" {
		delete(e.aliases, en.tempID)
		en.tempID = ""
	}
}

// renderLocked writes the entity's visible state into the store. pos is the
// insertion position used if the entity reappears.
func (e *Engine[T]) renderLocked(en *entry[T], pos int) {
	v, ok := en.visible()
	switch {
	case !ok:
		e.items.Remove(en.id)
	case e.items.Has(en.id) || pos < 0:
		e.items.Upsert(v)
	default:
		e.items.InsertAt(pos, v)
	}
}

func (e *Engine[T]) entryLocked(id string) *entry[T] {
	en := e.entries[id]
	if en == nil {
		en = &entry[T]{id: id}
		e.entries[id] = en
	}
	return en
}

func wait(ctx context.Context, prev <-chan struct{}) error {
	if prev == nil {
		return nil
	}
	select {
	case <-prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create inserts a speculative entity built from draft under a temporary id,
// then persists it. On success the temporary entity is replaced by the durable
// one; on failure it is removed. The returned entity is the durable one.
func (e *Engine[T]) Create(ctx context.Context, draft T) (T, error) {
	var zero T
	if e.cfg.Mutations.Create == nil {
		return zero, errNoCreate
	}
	if err := e.checkEnabled(); err != nil {
		return zero, err
	}

	tempID := models.NewTempID()
	speculative := e.cfg.Transformer.OptimisticDefaults(draft, tempID, e.now())
	if speculative.EntityKey() != tempID {
		return zero, fmt.Errorf("create %s: OptimisticDefaults must assign the temporary id", e.cfg.Name)
	}

	e.mu.Lock()
	en := e.entryLocked(tempID)
	l := &layer[T]{kind: KindCreate, value: speculative}
	e.pushLayerLocked(en, l)
	e.items.Upsert(speculative)
	e.mu.Unlock()
	e.notify()

	defer close(l.done)
	created, err := e.cfg.Mutations.Create(ctx, e.cfg.toAPI(speculative))

	e.mu.Lock()
	if err != nil {
		e.failCreateLocked(en, l)
		e.flushDeferredLocked()
		e.mu.Unlock()
		e.record(KindCreate, "rollback")
		logging.Debug().Err(err).Str("store", e.cfg.Name).Str("temp_id", tempID).Msg("optimistic create rolled back")
		e.notify()
		return zero, fmt.Errorf("create %s: %w", e.cfg.Name, err)
	}

	durable := e.cfg.toUI(created)
	e.confirmCreateLocked(en, l, durable)
	e.flushDeferredLocked()
	e.mu.Unlock()
	e.record(KindCreate, "ok")
	e.notify()
	return durable, nil
}

// failCreateLocked discards the temporary entity and every mutation queued
// behind its creation.
func (e *Engine[T]) failCreateLocked(en *entry[T], l *layer[T]) {
	for _, q := range append([]*layer[T](nil), en.layers...) {
		e.dropLayerLocked(en, q)
	}
	e.dropLayerLocked(en, l)
	e.items.Remove(en.id)
	delete(e.entries, en.id)
}

func (e *Engine[T]) confirmCreateLocked(en *entry[T], l *layer[T], durable T) {
	tempID := en.id
	durableID := durable.EntityKey()
	e.dropLayerLocked(en, l)
	delete(e.entries, tempID)

	base, hasBase, acked, tomb := durable, true, durable.Revision(), false
	// A push for the durable id may have been applied before the response.
	if prior := e.entries[durableID]; prior != nil {
		if prior.acked.After(acked) || (prior.tombstone && !prior.acked.Before(acked)) {
			base, hasBase, acked, tomb = prior.base, prior.hasBase, prior.acked, prior.tombstone
		}
		en.layers = append(prior.layers, en.layers...)
		en.layerVer += prior.layerVer + 1
	}
	// Callers still holding the temporary id may queue behind the pending
	// layers; the alias lives until they settle.
	if len(en.layers) > 0 {
		e.aliases[tempID] = durableID
		en.tempID = tempID
	}
	en.id = durableID
	en.setBase(base, hasBase)
	en.acked = acked
	en.tombstone = tomb
	e.entries[durableID] = en

	v, ok := en.visible()
	if !ok {
		e.items.Remove(tempID)
		e.items.Remove(durableID)
		return
	}
	e.items.ReplaceIdentifier(tempID, v)
}

// Update applies patch to the latest local state of id immediately and
// persists the result. Mutations of the same entity are sent one at a time in
// the order they were issued; each patch operates on the state left by the
// one before it. On failure the entity is restored to the state it had right
// before this patch was applied.
func (e *Engine[T]) Update(ctx context.Context, id string, patch func(T) T) (T, error) {
	var zero T
	if e.cfg.Mutations.Update == nil {
		return zero, errNoUpdate
	}
	if err := e.checkEnabled(); err != nil {
		return zero, err
	}

	e.mu.Lock()
	id = e.resolveLocked(id)
	cur, ok := e.items.Get(id)
	if !ok {
		e.mu.Unlock()
		return zero, fmt.Errorf("update %s %s: %w", e.cfg.Name, id, models.ErrNotFound)
	}
	en := e.entryLocked(id)
	if !en.hasBase && len(en.layers) == 0 {
		en.setBase(cur, true)
	}
	l := &layer[T]{kind: KindUpdate, patch: patch, before: cur, hadBefore: true, pos: e.items.IndexOf(id)}
	prev := e.pushLayerLocked(en, l)
	e.items.Upsert(patch(cur))
	e.mu.Unlock()
	e.notify()

	defer close(l.done)
	waitErr := wait(ctx, prev)

	e.mu.Lock()
	if waitErr != nil || l.dropped {
		err := waitErr
		if l.dropped {
			err = models.ErrNotFound
		}
		e.rollbackLocked(en, l)
		e.mu.Unlock()
		e.record(KindUpdate, "rollback")
		e.notify()
		return zero, fmt.Errorf("update %s %s: %w", e.cfg.Name, id, err)
	}
	id = en.id
	payload, ok := en.fold(en.indexOf(l) + 1)
	e.mu.Unlock()

	if !ok {
		// A remote delete landed while this update was queued.
		e.mu.Lock()
		e.rollbackLocked(en, l)
		e.mu.Unlock()
		e.record(KindUpdate, "rollback")
		e.notify()
		return zero, fmt.Errorf("update %s %s: %w", e.cfg.Name, id, models.ErrNotFound)
	}

	updated, err := e.cfg.Mutations.Update(ctx, id, e.cfg.toAPI(payload))

	e.mu.Lock()
	if err != nil {
		e.rollbackLocked(en, l)
		e.mu.Unlock()
		e.record(KindUpdate, "rollback")
		logging.Debug().Err(err).Str("store", e.cfg.Name).Str("id", id).Msg("optimistic update rolled back")
		e.notify()
		return zero, fmt.Errorf("update %s %s: %w", e.cfg.Name, id, err)
	}
	confirmed := e.cfg.toUI(updated)
	e.dropLayerLocked(en, l)
	e.acknowledgeLocked(en, confirmed)
	e.renderLocked(en, -1)
	e.mu.Unlock()
	e.record(KindUpdate, "ok")
	e.notify()
	return confirmed, nil
}

// Remove deletes id locally and then on the server. Removing an id that is
// not in the store is a no-op. A server-side not-found counts as success. On
// failure the entity is re-inserted at its original position.
func (e *Engine[T]) Remove(ctx context.Context, id string) error {
	if e.cfg.Mutations.Remove == nil {
		return errNoRemove
	}
	if err := e.checkEnabled(); err != nil {
		return err
	}

	e.mu.Lock()
	id = e.resolveLocked(id)
	cur, ok := e.items.Get(id)
	if !ok {
		e.mu.Unlock()
		return nil
	}
	en := e.entryLocked(id)
	if !en.hasBase && len(en.layers) == 0 {
		en.setBase(cur, true)
	}
	l := &layer[T]{kind: KindRemove, before: cur, hadBefore: true, pos: e.items.IndexOf(id)}
	prev := e.pushLayerLocked(en, l)
	e.items.Remove(id)
	e.mu.Unlock()
	e.notify()

	defer close(l.done)
	waitErr := wait(ctx, prev)

	e.mu.Lock()
	if waitErr != nil {
		e.rollbackLocked(en, l)
		e.mu.Unlock()
		e.record(KindRemove, "rollback")
		e.notify()
		return fmt.Errorf("remove %s %s: %w", e.cfg.Name, id, waitErr)
	}
	if l.dropped {
		// The entity's creation failed; nothing exists on the server.
		e.mu.Unlock()
		e.record(KindRemove, "ok")
		return nil
	}
	id = en.id
	e.mu.Unlock()

	err := e.cfg.Mutations.Remove(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		err = nil
	}

	e.mu.Lock()
	if err != nil {
		e.rollbackLocked(en, l)
		e.mu.Unlock()
		e.record(KindRemove, "rollback")
		logging.Debug().Err(err).Str("store", e.cfg.Name).Str("id", id).Msg("optimistic remove rolled back")
		e.notify()
		return fmt.Errorf("remove %s %s: %w", e.cfg.Name, id, err)
	}
	e.dropLayerLocked(en, l)
	en.setBase(en.base, false)
	en.tombstone = true
	e.renderLocked(en, -1)
	e.mu.Unlock()
	e.record(KindRemove, "ok")
	e.notify()
	return nil
}

// rollbackLocked unwinds l. When l is the top of the stack and neither the
// confirmed base nor the layers beneath it changed since it was applied, the
// pre-apply snapshot is restored verbatim. Otherwise the visible state is recomputed from the base and the
// remaining layers.
func (e *Engine[T]) rollbackLocked(en *entry[T], l *layer[T]) {
	if l.dropped {
		return
	}
	exact := l.hadBefore &&
		en.indexOf(l) == len(en.layers)-1 &&
		l.baseVer == en.baseVer &&
		l.layerVer == en.layerVer
	e.dropLayerLocked(en, l)

	if exact {
		if e.items.Has(en.id) {
			e.items.Upsert(l.before)
		} else {
			e.items.InsertAt(l.pos, l.before)
		}
		return
	}
	pos := -1
	if l.kind == KindRemove {
		pos = l.pos
	}
	e.renderLocked(en, pos)
}

// acknowledgeLocked records server-confirmed state as the new base. A
// response older than state already acknowledged through a push is ignored.
func (e *Engine[T]) acknowledgeLocked(en *entry[T], confirmed T) {
	if en.hasBase && confirmed.Revision().Before(en.acked) {
		return
	}
	if en.hasBase {
		confirmed = e.cfg.merge(en.base, confirmed)
	}
	en.setBase(confirmed, true)
	en.tombstone = false
	if r := confirmed.Revision(); r.After(en.acked) {
		en.acked = r
	}
}
