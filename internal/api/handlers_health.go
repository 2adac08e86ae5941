// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/tandem/internal/models"
)

// HealthLive reports that the process is up, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	}, 0)
}

// HealthReady returns 200 when the datastore answers a ping and 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := h.store != nil && h.store.Ping(ctx) == nil
	health := models.HealthStatus{
		Status:   "healthy",
		Database: dbOK,
		Uptime:   time.Since(h.startTime),
		Version:  h.version,
	}
	if h.hub != nil {
		health.Connections = h.hub.ConnectionCount()
		health.Users = h.hub.UserCount()
	}

	status := http.StatusOK
	if !dbOK {
		health.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, status, health, 0)
}
