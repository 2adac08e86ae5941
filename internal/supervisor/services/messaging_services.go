// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package services

import (
	"context"
	"fmt"
	"io"

	"github.com/tomtom215/tandem/internal/capture"
	"github.com/tomtom215/tandem/internal/logging"
)

// ContextHub is satisfied by *websocket.Hub.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the connection registry. A restart reopens the hub after
// every connection was closed.
type HubService struct {
	hub ContextHub
}

// NewHubService wraps hub.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

func (s *HubService) String() string { return "websocket-hub" }

// FeedBridge is satisfied by *capture.Bridge.
type FeedBridge interface {
	Serve(ctx context.Context, feed capture.Feed) error
}

// CaptureService runs the change capture bridge over one feed. A feed error
// is returned so that suture restarts the feed with backoff.
type CaptureService struct {
	bridge FeedBridge
	feed   capture.Feed
}

// NewCaptureService binds bridge to feed.
func NewCaptureService(bridge FeedBridge, feed capture.Feed) *CaptureService {
	return &CaptureService{bridge: bridge, feed: feed}
}

// Serve implements suture.Service.
func (s *CaptureService) Serve(ctx context.Context) error {
	err := s.bridge.Serve(ctx, s.feed)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return fmt.Errorf("change feed %s stopped unexpectedly", s.feed.Name())
	}
	return err
}

func (s *CaptureService) String() string { return "capture-" + s.feed.Name() }

// CloserService holds a resource open for the lifetime of the tree and
// closes it on shutdown. It is used for feed transports such as the NATS
// connection and the in-process pub/sub.
type CloserService struct {
	name     string
	resource io.Closer
}

// NewCloserService wraps resource.
func NewCloserService(name string, resource io.Closer) *CloserService {
	return &CloserService{name: name, resource: resource}
}

// Serve implements suture.Service. It does not return until ctx is done.
func (s *CloserService) Serve(ctx context.Context) error {
	<-ctx.Done()
	if err := s.resource.Close(); err != nil {
		logging.Warn().Err(err).Str("service", s.name).Msg("failed to close resource")
	}
	return ctx.Err()
}

func (s *CloserService) String() string { return s.name }
