// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the server and the client SDK. Callers match with
// errors.Is; implementations wrap with fmt.Errorf("...: %w", err).
var (
	// ErrAuthentication means a bearer token was missing, malformed or expired.
	// The gateway closes the connection and does not retry.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound means the target row does not exist (or vanished between the
	// optimistic apply and server processing).
	ErrNotFound = errors.New("not found")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrTransport means the connection to the server dropped or could not be
	// established. Stores keep serving cached data.
	ErrTransport = errors.New("transport error")

	// ErrEnrichmentLookup is logged by the change-capture bridge when a
	// best-effort lookup fails. It never blocks delivery.
	ErrEnrichmentLookup = errors.New("enrichment lookup failed")

	// ErrStoreDisabled is returned by mutations on a store without a session.
	ErrStoreDisabled = errors.New("store disabled")

	// ErrDisposed is returned by components used after Dispose/Close.
	ErrDisposed = errors.New("disposed")

	// ErrForbidden means the caller is authenticated but not a party to the row.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports a payload rejected by the server. It is surfaced to
// callers verbatim after rollback.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) true for any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
