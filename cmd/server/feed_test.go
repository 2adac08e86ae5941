// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/tandem/internal/capture"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func testConfig(feed string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverPostgres, DSN: "postgres://localhost/tandem?sslmode=disable"},
		Realtime: config.RealtimeConfig{
			Feed:          feed,
			Table:         "matches",
			NotifyChannel: "tandem_changes",
			Topic:         "tandem.changes",
			Workers:       2,
			QueueSize:     16,
		},
	}
}

func TestOpenFeed(t *testing.T) {
	tests := []struct {
		name          string
		feed          string
		wantName      string
		wantPublisher bool
		wantCloser    bool
	}{
		{name: "postgres relies on trigger", feed: config.FeedPostgres, wantName: "postgres"},
		{name: "in-process watermill", feed: config.FeedWatermill, wantName: "watermill", wantPublisher: true, wantCloser: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed, err := openFeed(context.Background(), testConfig(tt.feed))
			if err != nil {
				t.Fatalf("openFeed() error = %v", err)
			}
			if got := feed.feed.Name(); got != tt.wantName {
				t.Errorf("Name() = %q, want %q", got, tt.wantName)
			}
			if (feed.publisher != nil) != tt.wantPublisher {
				t.Errorf("publisher set = %v, want %v", feed.publisher != nil, tt.wantPublisher)
			}
			if (feed.closer != nil) != tt.wantCloser {
				t.Errorf("closer set = %v, want %v", feed.closer != nil, tt.wantCloser)
			}
			if feed.closer != nil {
				if err := feed.closer.Close(); err != nil {
					t.Errorf("Close() error = %v", err)
				}
			}
		})
	}
}

func TestOpenFeed_Unknown(t *testing.T) {
	if _, err := openFeed(context.Background(), testConfig("kafka")); err == nil {
		t.Fatal("expected error for unknown feed")
	}
}

func TestOpenFeed_NATSWithoutBuildTag(t *testing.T) {
	if capture.NATSEnabled {
		t.Skip("binary built with NATS support")
	}
	if _, err := openFeed(context.Background(), testConfig(config.FeedNATS)); err == nil {
		t.Fatal("expected error when NATS support is not compiled in")
	}
}

func TestBridgeConfig(t *testing.T) {
	rt := config.RealtimeConfig{
		Table:           "matches",
		Workers:         3,
		QueueSize:       64,
		LookupTimeout:   2 * time.Second,
		BreakerFailures: 7,
		BreakerTimeout:  time.Minute,
	}
	got := bridgeConfig(rt)
	want := capture.Config{
		Table:           "matches",
		Workers:         3,
		QueueSize:       64,
		LookupTimeout:   2 * time.Second,
		BreakerFailures: 7,
		BreakerTimeout:  time.Minute,
	}
	if got != want {
		t.Errorf("bridgeConfig() = %+v, want %+v", got, want)
	}
}
