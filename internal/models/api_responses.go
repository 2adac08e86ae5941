// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import "time"

// APIResponse is the standard envelope for every HTTP response.
//
// Success:
//
//	{"status": "success", "data": {...}, "metadata": {"timestamp": "..."}}
//
// Error:
//
//	{"status": "error", "data": null, "error": {"code": "NOT_FOUND", "message": "..."}}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Count       int       `json:"count,omitempty"`
}

// APIError carries a stable machine-readable code plus a human message.
// Details holds per-field validation messages when Code is VALIDATION_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Stable API error codes.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

// HealthStatus is returned by the readiness probe.
type HealthStatus struct {
	Status      string        `json:"status"`
	Database    bool          `json:"database"`
	Connections int           `json:"connections"`
	Users       int           `json:"users"`
	Uptime      time.Duration `json:"uptime"`
	Version     string        `json:"version"`
}
