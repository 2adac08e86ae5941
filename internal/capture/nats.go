// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

//go:build nats

package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/tandem/internal/config"
)

// NATSEnabled reports whether this binary was built with NATS support.
const NATSEnabled = true

// EmbeddedServer is an in-process NATS JetStream server for single-instance
// deployments.
type EmbeddedServer struct {
	server *server.Server
}

// StartEmbeddedServer starts a JetStream server storing under storeDir and
// waits until it accepts connections.
func StartEmbeddedServer(storeDir string) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "tandem",
		Host:       "127.0.0.1",
		Port:       server.RANDOM_PORT,
		JetStream:  true,
		StoreDir:   storeDir,
		NoLog:      true,
		MaxPayload: 1024 * 1024,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return &EmbeddedServer{server: ns}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string { return s.server.ClientURL() }

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}

func natsOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// NewNATSPublisher creates a JetStream publisher for ChangePublisher.
func NewNATSPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOptions(logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return pub, nil
}

// NewNATSSubscriber creates a durable JetStream subscriber. One subscriber
// per queue group keeps a single consumer per row stream.
func NewNATSSubscriber(url string, cfg config.NATSConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      natsOptions(logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: cfg.DurableName,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.DeliverNew(),
				natsgo.MaxAckPending(1),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}
	return sub, nil
}

// NATSTransport bundles what the server needs for the NATS feed.
type NATSTransport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	embedded   *EmbeddedServer
}

// OpenNATS connects to the configured server, starting an embedded one when
// requested.
func OpenNATS(_ context.Context, cfg config.NATSConfig) (*NATSTransport, error) {
	logger := NewWatermillLogger()
	url := cfg.URL
	var embedded *EmbeddedServer
	if cfg.EmbeddedServer {
		var err error
		if embedded, err = StartEmbeddedServer(cfg.StoreDir); err != nil {
			return nil, err
		}
		url = embedded.ClientURL()
	}

	pub, err := NewNATSPublisher(url, logger)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, err
	}
	sub, err := NewNATSSubscriber(url, cfg, logger)
	if err != nil {
		_ = pub.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, err
	}
	return &NATSTransport{Publisher: pub, Subscriber: sub, embedded: embedded}, nil
}

// Close releases the connections and stops the embedded server.
func (t *NATSTransport) Close() error {
	perr := t.Publisher.Close()
	serr := t.Subscriber.Close()
	if t.embedded != nil {
		t.embedded.Shutdown()
	}
	if perr != nil {
		return perr
	}
	return serr
}
