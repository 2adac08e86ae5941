// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package logging provides the process-wide zerolog logger used by both the
// Tandem server and the client SDK.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("user_id", uid).Msg("browser registered")
//	logging.Ctx(ctx).Warn().Err(err).Msg("enrichment lookup failed")
//
// Component loggers carry a fixed "component" field:
//
//	log := logging.WithComponent("capture")
//	log.Debug().Str("row_id", id).Msg("change received")
//
// # Context Fields
//
// Correlation IDs, user IDs and browser instance IDs stored in a context are
// added automatically by Ctx. The server tags each realtime connection's
// context with the user and browser it belongs to, so every log line emitted
// while serving that connection can be filtered per tab.
//
// # slog Bridge
//
// Libraries that accept *slog.Logger (sutureslog, Watermill) are handed
// NewSlogLogger, which writes through the same zerolog instance.
//
// Always terminate event chains with Msg or Send, otherwise nothing is written.
package logging
