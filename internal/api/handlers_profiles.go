// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tandem/internal/auth"
	"github.com/tomtom215/tandem/internal/models"
)

// GetProfile returns a public profile. Profiles are visible to any
// authenticated user.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, p, 0)
}

// PutMyProfile creates or replaces the caller's profile.
func (h *Handler) PutMyProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpsertProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondStoreError(w, r, err)
		return
	}
	p := models.Profile{
		UserID:      auth.UserIDFromContext(r.Context()),
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Bio:         req.Bio,
	}
	if err := h.store.UpsertProfile(r.Context(), p); err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, p, 0)
}
