// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

//go:build !nats

package capture

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/tandem/internal/config"
)

// NATSEnabled reports whether this binary was built with NATS support.
const NATSEnabled = false

// NATSTransport is a stub for non-NATS builds.
type NATSTransport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// OpenNATS returns an error in non-NATS builds.
func OpenNATS(_ context.Context, _ config.NATSConfig) (*NATSTransport, error) {
	return nil, fmt.Errorf("NATS support not enabled (build with -tags nats)")
}

// Close is a no-op stub.
func (t *NATSTransport) Close() error { return nil }
