// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package api

import (
	"context"
	"time"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/websocket"
)

// Store is the datastore surface used by the handlers. *database.DB
// implements it.
type Store interface {
	ListMatchesForUser(ctx context.Context, userID string, limit, offset int) ([]models.Match, error)
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	CreateMatch(ctx context.Context, m models.Match) (*models.Match, error)
	UpdateMatch(ctx context.Context, id string, apply func(*models.Match) error) (before, after *models.Match, err error)
	DeleteMatch(ctx context.Context, id string) (*models.Match, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, p models.Profile) error
	Ping(ctx context.Context) error
}

// ChangePublisher receives every committed match write when the datastore
// has no native change feed. *capture.ChangePublisher implements it.
type ChangePublisher interface {
	PublishChange(ctx context.Context, change models.RowChange) error
}

// Handler serves the API routes.
type Handler struct {
	store     Store
	hub       *websocket.Hub
	wsConfig  websocket.ClientConfig
	apiConfig config.APIConfig
	publisher ChangePublisher
	startTime time.Time
	version   string
}

// NewHandler wires the handlers to their collaborators.
func NewHandler(store Store, hub *websocket.Hub, wsConfig websocket.ClientConfig, apiConfig config.APIConfig, version string) *Handler {
	return &Handler{
		store:     store,
		hub:       hub,
		wsConfig:  wsConfig,
		apiConfig: apiConfig,
		startTime: time.Now(),
		version:   version,
	}
}

// SetChangePublisher enables publishing of committed writes. Passing nil
// disables it, which is correct when the datastore notifies on its own.
// Call once during startup.
func (h *Handler) SetChangePublisher(publisher ChangePublisher) {
	h.publisher = publisher
}

// publishChange hands a committed write to the change feed. It runs
// synchronously so that two writes to one row are published in commit order.
func (h *Handler) publishChange(ctx context.Context, op models.Operation, oldRow, newRow *models.Match) {
	if h.publisher == nil {
		return
	}
	change := models.RowChange{
		Table:       models.TableMatches,
		Operation:   op,
		NewRow:      newRow,
		OldRow:      oldRow,
		CommittedAt: time.Now().UTC(),
	}
	if err := h.publisher.PublishChange(context.WithoutCancel(ctx), change); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("match_id", change.RowID()).Str("operation", string(op)).Msg("Failed to publish match change")
	}
}
