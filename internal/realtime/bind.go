// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package realtime

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/optimistic"
)

// Decoder turns a change event into the entity an engine stores. For deletes
// it must return the last known state of the row.
type Decoder[T optimistic.Entity] func(evt models.ChangeEvent) (T, error)

// RowDecoder decodes new_row, or old_row for deletes, as T.
func RowDecoder[T optimistic.Entity]() Decoder[T] {
	return func(evt models.ChangeEvent) (T, error) {
		var row T
		raw := evt.NewRow
		if evt.Operation == models.OpDelete {
			raw = evt.OldRow
		}
		if len(raw) == 0 {
			return row, fmt.Errorf("%s event for %s has no row", evt.Operation, evt.Table)
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return row, fmt.Errorf("decode %s row: %w", evt.Table, err)
		}
		return row, nil
	}
}

// Bind adapts engine to Receiver. A nil decode uses RowDecoder.
func Bind[T optimistic.Entity](engine *optimistic.Engine[T], decode Decoder[T]) Receiver {
	if decode == nil {
		decode = RowDecoder[T]()
	}
	return ReceiverFunc(func(evt models.ChangeEvent) {
		if !evt.Operation.Valid() {
			logging.Warn().Str("store", engine.Name()).Str("operation", string(evt.Operation)).Msg("discarding change with unknown operation")
			return
		}
		row, err := decode(evt)
		if err != nil {
			logging.Warn().Err(err).Str("store", engine.Name()).Str("event_id", evt.ID).Msg("discarding undecodable change")
			return
		}
		engine.ApplyPush(evt.Operation, row)
	})
}
