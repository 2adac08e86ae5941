// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/tomtom215/tandem/internal/api"
	"github.com/tomtom215/tandem/internal/capture"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/logging"
)

// changeFeed is the selected change-capture transport.
type changeFeed struct {
	feed capture.Feed
	// publisher is set when the API must publish its own writes. The
	// postgres feed relies on the table trigger instead.
	publisher api.ChangePublisher
	// closer releases the transport on shutdown; nil when there is none.
	closer io.Closer
}

// openFeed builds the feed named by cfg.Realtime.Feed.
func openFeed(ctx context.Context, cfg *config.Config) (*changeFeed, error) {
	rt := cfg.Realtime
	switch rt.Feed {
	case config.FeedPostgres:
		return &changeFeed{feed: capture.NewPostgresFeed(cfg.Database.DSN, rt.NotifyChannel)}, nil

	case config.FeedWatermill:
		pubSub := capture.NewInProcessPubSub(int64(rt.QueueSize))
		return &changeFeed{
			feed:      capture.NewWatermillFeed(config.FeedWatermill, pubSub, rt.Topic),
			publisher: capture.NewChangePublisher(pubSub, rt.Topic),
			closer:    pubSub,
		}, nil

	case config.FeedNATS:
		transport, err := capture.OpenNATS(ctx, cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("failed to open NATS transport: %w", err)
		}
		logging.Info().
			Str("url", cfg.NATS.URL).
			Bool("embedded", cfg.NATS.EmbeddedServer).
			Str("stream", cfg.NATS.StreamName).
			Msg("NATS transport ready")
		return &changeFeed{
			feed:      capture.NewWatermillFeed(config.FeedNATS, transport.Subscriber, rt.Topic),
			publisher: capture.NewChangePublisher(transport.Publisher, rt.Topic),
			closer:    transport,
		}, nil

	default:
		return nil, fmt.Errorf("unknown realtime feed %q", rt.Feed)
	}
}

// bridgeConfig maps realtime settings onto the capture bridge.
func bridgeConfig(rt config.RealtimeConfig) capture.Config {
	return capture.Config{
		Table:           rt.Table,
		Workers:         rt.Workers,
		QueueSize:       rt.QueueSize,
		LookupTimeout:   rt.LookupTimeout,
		BreakerFailures: rt.BreakerFailures,
		BreakerTimeout:  rt.BreakerTimeout,
	}
}
