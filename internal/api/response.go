// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// sanitizeLogValue removes control characters to prevent log injection.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondSuccess(w http.ResponseWriter, status int, data interface{}, count int) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now(), Count: count},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", sanitizeLogValue(code)).Str("error", sanitizeLogValue(err.Error())).Msg("API Error")
	}
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now()},
		Error:    &models.APIError{Code: code, Message: message},
	})
}

func respondAPIError(w http.ResponseWriter, status int, apiErr *models.APIError) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now()},
		Error:    apiErr,
	})
}

// respondStoreError maps the shared error taxonomy onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *validation.RequestValidationError
	var valErr *models.ValidationError
	switch {
	case errors.As(err, &reqErr):
		respondAPIError(w, http.StatusBadRequest, reqErr.ToAPIError())
	case errors.As(err, &valErr):
		apiErr := &models.APIError{Code: models.CodeValidation, Message: valErr.Message}
		if valErr.Field != "" {
			apiErr.Details = map[string]interface{}{valErr.Field: valErr.Message}
		}
		respondAPIError(w, http.StatusBadRequest, apiErr)
	case errors.Is(err, models.ErrAuthentication):
		respondError(w, http.StatusUnauthorized, models.CodeUnauthorized, "authentication required", nil)
	case errors.Is(err, models.ErrForbidden):
		respondError(w, http.StatusForbidden, models.CodeForbidden, "not a participant of this match", nil)
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, models.CodeNotFound, "not found", nil)
	case errors.Is(err, models.ErrTransport):
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("datastore unavailable")
		respondError(w, http.StatusServiceUnavailable, models.CodeInternal, "datastore unavailable", nil)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, models.CodeInternal, "internal error", nil)
	}
}

// decodeJSON reads a bounded JSON body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &models.ValidationError{Message: "malformed JSON body"}
	}
	return validation.ValidateStruct(v)
}
