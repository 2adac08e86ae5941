// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package capture

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

// NewWatermillLogger adapts the global zerolog logger for Watermill.
func NewWatermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}

// NewInProcessPubSub returns a gochannel pub/sub used when the datastore has
// no native change notifications (DuckDB). The API publishes after each
// write and the bridge subscribes.
//
// Publish blocks until the subscriber acks so that per-row order survives
// the hand-off.
func NewInProcessPubSub(buffer int64) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            buffer,
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger())
}

// WatermillFeed consumes RowChange messages from any Watermill subscriber.
type WatermillFeed struct {
	name       string
	subscriber message.Subscriber
	topic      string
}

// NewWatermillFeed creates a feed reading topic from subscriber. name labels
// metrics and logs ("watermill", "nats").
func NewWatermillFeed(name string, subscriber message.Subscriber, topic string) *WatermillFeed {
	return &WatermillFeed{name: name, subscriber: subscriber, topic: topic}
}

// Name implements Feed.
func (f *WatermillFeed) Name() string { return f.name }

// Run implements Feed. Malformed messages are acked and dropped so they
// cannot block the topic.
func (f *WatermillFeed) Run(ctx context.Context, sink func(context.Context, models.RowChange)) error {
	messages, err := f.subscriber.Subscribe(ctx, f.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", f.topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription to %s closed: %w", f.topic, models.ErrTransport)
			}
			var change models.RowChange
			if err := json.Unmarshal(msg.Payload, &change); err != nil {
				metrics.CaptureFeedErrors.WithLabelValues(f.name).Inc()
				logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed change message")
				msg.Ack()
				continue
			}
			sink(ctx, change)
			msg.Ack()
		}
	}
}

// ChangePublisher is the write side of a Watermill feed: the API publishes a
// RowChange after every committed write.
type ChangePublisher struct {
	publisher message.Publisher
	topic     string
}

// NewChangePublisher creates a publisher writing to topic.
func NewChangePublisher(publisher message.Publisher, topic string) *ChangePublisher {
	return &ChangePublisher{publisher: publisher, topic: topic}
}

// PublishChange publishes change. The row id is used as the message key.
func (p *ChangePublisher) PublishChange(ctx context.Context, change models.RowChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("row_id", change.RowID())
	msg.Metadata.Set("correlation_id", logging.CorrelationIDFromContext(ctx))
	msg.SetContext(ctx)
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish change to %s: %w", p.topic, err)
	}
	return nil
}
