// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package middleware holds the HTTP middleware shared by the API router.
//
//   - RequestID: X-Request-ID propagation; the id doubles as the logging
//     correlation id.
//   - PrometheusMetrics: request counters and latency histograms labelled by
//     chi route pattern.
//
// Both use the standard func(http.Handler) http.Handler shape and are
// mounted with chi's r.Use. The realtime upgrade route is kept outside
// PrometheusMetrics because the wrapped writer does not implement
// http.Hijacker.
package middleware
