// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package matchapi

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/optimistic"
)

// StoreName is the name, and cache partition, of the matches store.
const StoreName = models.TableMatches

// IndexCounterpart looks a match up by the counterpart of selfID.
const IndexCounterpart = "counterpart"

// MatchStoreConfig wires the matches store to c. selfID is the session user;
// drafts passed to Create must carry the counterpart in UserBID.
func MatchStoreConfig(c *Client, selfID string) optimistic.Config[models.MatchView] {
	return optimistic.Config[models.MatchView]{
		Name:    StoreName,
		QueryFn: c.ListMatches,
		ChunkFn: c.ListChunk,
		Mutations: optimistic.Mutations[models.MatchView]{
			Create: c.CreateMatch,
			Update: c.UpdateMatch,
			Remove: c.DeleteMatch,
		},
		Transformer: optimistic.Transformer[models.MatchView]{
			OptimisticDefaults: func(draft models.MatchView, tempID string, now time.Time) models.MatchView {
				draft.ID = tempID
				if draft.UserAID == "" {
					draft.UserAID = selfID
				}
				if draft.Status == "" {
					draft.Status = models.MatchPending
				}
				draft.CreatedAt = now
				draft.UpdatedAt = now
				return draft
			},
			Merge: keepCounterpart(selfID),
		},
		Indexes: map[string]func(models.MatchView) string{
			IndexCounterpart: func(v models.MatchView) string { return v.Match.Counterpart(selfID) },
		},
		Authorize: c.SetToken,
	}
}

// keepCounterpart carries the cached counterpart profile forward when
// incoming state has none, as with degraded change events.
func keepCounterpart(selfID string) func(prev, next models.MatchView) models.MatchView {
	return func(prev, next models.MatchView) models.MatchView {
		if next.Counterpart == nil && prev.Counterpart != nil &&
			prev.Counterpart.UserID == next.Match.Counterpart(selfID) {
			next.Counterpart = prev.Counterpart
		}
		return next
	}
}

// DecodeChange turns a gateway change event into a MatchView, taking the
// counterpart profile from the delivery context. A degraded context carries
// no usable profile and leaves Counterpart nil. Deletes decode old_row.
func DecodeChange(evt models.ChangeEvent) (models.MatchView, error) {
	var v models.MatchView
	raw := evt.NewRow
	if evt.Operation == models.OpDelete {
		raw = evt.OldRow
	}
	if len(raw) == 0 {
		return v, fmt.Errorf("%s event %s has no row", evt.Operation, evt.ID)
	}
	if err := json.Unmarshal(raw, &v.Match); err != nil {
		return v, fmt.Errorf("decode match row: %w", err)
	}
	if evt.Context != nil && !evt.Context.Degraded {
		v.Counterpart = evt.Context.Counterpart
	}
	return v, nil
}
