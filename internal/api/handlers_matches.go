// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tandem/internal/auth"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
)

// ListMatches returns one page of the caller's matches.
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	me := auth.UserIDFromContext(r.Context())
	limit, offset, err := h.pageParams(r)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	matches, err := h.store.ListMatchesForUser(r.Context(), me, limit, offset)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	profiles := map[string]*models.Profile{}
	views := make([]models.MatchView, len(matches))
	for i := range matches {
		views[i] = h.view(r.Context(), me, &matches[i], profiles)
	}
	respondSuccess(w, http.StatusOK, views, len(views))
}

// CreateMatch creates a pending match between the caller and a counterpart.
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req models.CreateMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondStoreError(w, r, err)
		return
	}
	me := auth.UserIDFromContext(r.Context())

	created, err := h.store.CreateMatch(r.Context(), models.Match{
		UserAID: me,
		UserBID: req.CounterpartID,
		Status:  models.MatchPending,
		Note:    req.Note,
	})
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("match_id", created.ID).Msg("Match created")
	h.publishChange(r.Context(), models.OpInsert, nil, created)
	respondSuccess(w, http.StatusCreated, h.view(r.Context(), me, created, nil), 0)
}

// UpdateMatch applies a partial update. The participant check runs inside
// the write so it cannot race with a concurrent change.
func (h *Handler) UpdateMatch(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondStoreError(w, r, err)
		return
	}
	me := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	before, after, err := h.store.UpdateMatch(r.Context(), id, func(m *models.Match) error {
		if !m.HasParticipant(me) {
			return models.ErrForbidden
		}
		if req.Status != nil {
			m.Status = *req.Status
		}
		if req.Note != nil {
			m.Note = *req.Note
		}
		return nil
	})
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	h.publishChange(r.Context(), models.OpUpdate, before, after)
	respondSuccess(w, http.StatusOK, h.view(r.Context(), me, after, nil), 0)
}

// DeleteMatch removes a match. A missing match is 404; clients treat that as
// an already-applied removal.
func (h *Handler) DeleteMatch(w http.ResponseWriter, r *http.Request) {
	me := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	existing, err := h.store.GetMatch(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	if !existing.HasParticipant(me) {
		respondStoreError(w, r, models.ErrForbidden)
		return
	}

	deleted, err := h.store.DeleteMatch(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("match_id", id).Msg("Match deleted")
	h.publishChange(r.Context(), models.OpDelete, deleted, nil)
	respondSuccess(w, http.StatusOK, map[string]string{"id": deleted.ID}, 0)
}

// view enriches m with the caller's counterpart. profiles memoizes lookups
// within one request and may be nil.
func (h *Handler) view(ctx context.Context, me string, m *models.Match, profiles map[string]*models.Profile) models.MatchView {
	v := models.MatchView{Match: *m}
	other := m.Counterpart(me)
	if other == "" {
		return v
	}
	if p, ok := profiles[other]; ok {
		v.Counterpart = p
		return v
	}

	p, err := h.store.GetProfile(ctx, other)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", other).Msg("Counterpart profile lookup failed")
	}
	if profiles != nil {
		profiles[other] = p
	}
	v.Counterpart = p
	return v
}

func (h *Handler) pageParams(r *http.Request) (limit, offset int, err error) {
	limit, offset = h.apiConfig.DefaultPageSize, 0
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 || limit > h.apiConfig.MaxPageSize {
			return 0, 0, &models.ValidationError{Field: "limit", Message: "limit must be between 1 and " + strconv.Itoa(h.apiConfig.MaxPageSize)}
		}
	}
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, &models.ValidationError{Field: "offset", Message: "offset must be a non-negative integer"}
		}
	}
	return limit, offset, nil
}
