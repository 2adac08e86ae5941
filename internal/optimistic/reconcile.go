// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package optimistic

import (
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

// PushResult describes what ApplyPush did with an event.
type PushResult int

const (
	PushApplied PushResult = iota
	// PushSuppressed means the event was a stale echo and the store is unchanged.
	PushSuppressed
	// PushDeferred means the event was held until in-flight creates settle.
	PushDeferred
	// PushIgnored means the store is disabled.
	PushIgnored
)

func (r PushResult) String() string {
	switch r {
	case PushApplied:
		return "applied"
	case PushSuppressed:
		return "suppressed"
	case PushDeferred:
		return "deferred"
	case PushIgnored:
		return "ignored"
	}
	return "unknown"
}

type deferredPush[T Entity] struct {
	op  models.Operation
	row T
}

// ApplyPush reconciles a realtime change into the store. For deletes, row is
// the last known state of the deleted entity.
//
// While a local mutation is pending on the entity, the push is discarded
// unless its revision is strictly newer than the last acknowledged server
// state; a newer push becomes the confirmed base and the pending optimistic
// layers are re-applied on top of it. Without pending mutations the push is
// applied unless it is older than the acknowledged state. A delete leaves a
// tombstone: later inserts or updates must be strictly newer to resurrect.
func (e *Engine[T]) ApplyPush(op models.Operation, row T) PushResult {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return e.pushed(PushIgnored, op, row)
	}
	row = e.cfg.toUI(row)
	if e.holdLocked(op, row) {
		e.mu.Unlock()
		return e.pushed(PushDeferred, op, row)
	}

	res := e.ingestLocked(op, row)
	e.mu.Unlock()
	if res == PushApplied {
		e.notify()
	}
	return e.pushed(res, op, row)
}

func (e *Engine[T]) pushed(res PushResult, op models.Operation, row T) PushResult {
	metrics.StorePushEvents.WithLabelValues(e.cfg.Name, res.String()).Inc()
	if res == PushSuppressed {
		logging.Debug().
			Str("store", e.cfg.Name).
			Str("id", row.EntityKey()).
			Str("operation", string(op)).
			Time("revision", row.Revision()).
			Msg("stale push suppressed")
	}
	return res
}

// ingestLocked merges server state for one entity.
func (e *Engine[T]) ingestLocked(op models.Operation, row T) PushResult {
	id := row.EntityKey()
	rev := row.Revision()
	en := e.entries[id]

	if en == nil {
		if op == models.OpDelete {
			e.items.Remove(id)
			e.entries[id] = &entry[T]{id: id, acked: rev, tombstone: true}
			return PushApplied
		}
		en = e.entryLocked(id)
		e.acceptLocked(en, op, row)
		e.renderLocked(en, -1)
		return PushApplied
	}

	pending := len(en.layers) > 0
	switch {
	case op == models.OpDelete:
		// A delete happened after the state it carries, so an equal revision
		// still supersedes it.
		if rev.Before(en.acked) {
			return PushSuppressed
		}
	case en.tombstone:
		if !rev.After(en.acked) {
			return PushSuppressed
		}
	case pending:
		if !rev.After(en.acked) {
			return PushSuppressed
		}
	default:
		if rev.Before(en.acked) {
			return PushSuppressed
		}
	}

	e.acceptLocked(en, op, row)
	e.renderLocked(en, -1)
	return PushApplied
}

func (e *Engine[T]) acceptLocked(en *entry[T], op models.Operation, row T) {
	if op == models.OpDelete {
		en.setBase(row, false)
		en.tombstone = true
	} else {
		if en.hasBase {
			row = e.cfg.merge(en.base, row)
		}
		en.setBase(row, true)
		en.tombstone = false
	}
	if r := row.Revision(); r.After(en.acked) {
		en.acked = r
	}
}

// holdLocked defers row while a create is in flight and its id is unknown.
// Server state for our own create can arrive before the create response, as
// an insert echo, a later update or a fetched row; holding it lets the
// temporary row be replaced rather than duplicated. Deletes are never held.
func (e *Engine[T]) holdLocked(op models.Operation, row T) bool {
	if op == models.OpDelete || e.counts[KindCreate] == 0 || e.entries[row.EntityKey()] != nil {
		return false
	}
	e.deferred = append(e.deferred, deferredPush[T]{op: op, row: row})
	return true
}

// flushDeferredLocked replays held rows once no create is in flight.
func (e *Engine[T]) flushDeferredLocked() {
	if e.counts[KindCreate] > 0 || len(e.deferred) == 0 {
		return
	}
	held := e.deferred
	e.deferred = nil
	for _, p := range held {
		res := e.ingestLocked(p.op, p.row)
		metrics.StorePushEvents.WithLabelValues(e.cfg.Name, res.String()).Inc()
	}
}
