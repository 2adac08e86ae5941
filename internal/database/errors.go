// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

// closeQuietly closes a resource and explicitly ignores any error.
// Use this in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// rollbackQuietly rolls back tx. After Commit this returns sql.ErrTxDone,
// which is ignored along with everything else.
func rollbackQuietly(tx *sql.Tx) {
	_ = tx.Rollback()
}

// mapError translates driver errors onto the shared taxonomy.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, models.ErrNotFound):
		return models.ErrNotFound
	case isConnectionError(err):
		return fmt.Errorf("%s: %w: %v", op, models.ErrTransport, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// record observes a query. Missing rows are an expected outcome and are not
// counted as errors.
func record(operation, table string, start time.Time, err error) {
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	metrics.RecordDBQuery(operation, table, time.Since(start), err)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"database is closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isTransactionConflict reports a DuckDB optimistic-concurrency conflict.
// The write is safe to retry.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction conflict") ||
		strings.Contains(msg, "Conflict on update")
}
