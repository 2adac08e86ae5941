// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

const (
	minReconnectInterval = 500 * time.Millisecond
	maxReconnectInterval = 30 * time.Second
	listenerPingInterval = 90 * time.Second
)

// PostgresFeed listens for NOTIFY payloads emitted by the matches trigger.
// pq.Listener reconnects on its own; Run only returns when ctx is done or the
// LISTEN itself fails.
type PostgresFeed struct {
	dsn     string
	channel string
}

// NewPostgresFeed creates a feed for channel on the database at dsn.
func NewPostgresFeed(dsn, channel string) *PostgresFeed {
	return &PostgresFeed{dsn: dsn, channel: channel}
}

// Name implements Feed.
func (f *PostgresFeed) Name() string { return "postgres" }

// Run implements Feed.
func (f *PostgresFeed) Run(ctx context.Context, sink func(context.Context, models.RowChange)) error {
	listener := pq.NewListener(f.dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logging.Info().Str("channel", f.channel).Msg("change feed connected")
		case pq.ListenerEventDisconnected:
			metrics.CaptureFeedErrors.WithLabelValues(f.Name()).Inc()
			logging.Warn().Err(err).Str("channel", f.channel).Msg("change feed disconnected")
		case pq.ListenerEventReconnected:
			logging.Info().Str("channel", f.channel).Msg("change feed reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logging.Warn().Err(err).Str("channel", f.channel).Msg("change feed connection attempt failed")
		}
	})
	defer func() { _ = listener.Close() }()

	if err := listener.Listen(f.channel); err != nil {
		return fmt.Errorf("listen %s: %w", f.channel, err)
	}

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-listener.Notify:
			if !ok {
				return fmt.Errorf("listener closed: %w", models.ErrTransport)
			}
			if n == nil {
				// Sent after a reconnect; notifications during the gap are lost.
				logging.Warn().Str("channel", f.channel).Msg("change feed resumed after reconnect, gap possible")
				continue
			}
			change, err := DecodeNotification(n.Extra)
			if err != nil {
				metrics.CaptureFeedErrors.WithLabelValues(f.Name()).Inc()
				logging.Warn().Err(err).Str("channel", f.channel).Msg("dropping malformed notification")
				continue
			}
			sink(ctx, change)

		case <-ticker.C:
			go func() { _ = listener.Ping() }()
		}
	}
}

// notification is the JSON shape produced by the tandem_notify_change trigger.
type notification struct {
	Table       string        `json:"table"`
	Operation   string        `json:"operation"`
	NewRow      *models.Match `json:"new_row"`
	OldRow      *models.Match `json:"old_row"`
	CommittedAt time.Time     `json:"committed_at"`
}

// DecodeNotification parses a NOTIFY payload. Operations are accepted in any
// case (TG_OP is upper case).
func DecodeNotification(payload string) (models.RowChange, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return models.RowChange{}, fmt.Errorf("decode notification: %w", err)
	}
	change := models.RowChange{
		Table:       n.Table,
		Operation:   models.Operation(strings.ToLower(n.Operation)),
		NewRow:      n.NewRow,
		OldRow:      n.OldRow,
		CommittedAt: n.CommittedAt,
	}
	if !change.Operation.Valid() {
		return models.RowChange{}, fmt.Errorf("decode notification: unknown operation %q", n.Operation)
	}
	if change.RowID() == "" {
		return models.RowChange{}, fmt.Errorf("decode notification: missing row id")
	}
	if change.CommittedAt.IsZero() {
		change.CommittedAt = time.Now().UTC()
	}
	return change, nil
}
