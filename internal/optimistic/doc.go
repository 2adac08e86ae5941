// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package optimistic implements the client-side optimistic mutation engine.
//
// An Engine wraps a store.Collection and makes local state reflect a mutation
// before the server confirms it:
//
//	eng, _ := optimistic.New(optimistic.Config[models.MatchView]{
//	    Name:      "matches",
//	    QueryFn:   client.ListMatches,
//	    Mutations: optimistic.Mutations[models.MatchView]{Create: ..., Update: ..., Remove: ...},
//	    Transformer: optimistic.Transformer[models.MatchView]{OptimisticDefaults: ...},
//	})
//	eng.Enable(token)
//	view, err := eng.Update(ctx, id, func(v models.MatchView) models.MatchView {
//	    v.Status = models.MatchAccepted
//	    return v
//	})
//
// # Pending Layers
//
// Every entity has a confirmed base (the last acknowledged server state) and
// a stack of pending layers, one per outstanding mutation. The visible entity
// is the base with all layers applied in order. Network calls for the same
// entity are issued one at a time; calls for different entities run freely
// and never affect each other's rollback.
//
// When a mutation fails, its layer is removed. If it was the top of the stack
// and nothing was confirmed since it was applied, the exact pre-apply
// snapshot is restored; otherwise the entity is recomputed from the base and
// the layers that remain.
//
// # Realtime Pushes
//
// ApplyPush merges change events from the realtime channel. See its
// documentation for the stale-echo rules.
package optimistic
