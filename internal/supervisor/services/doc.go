// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package services adapts the server's long-running components to
// suture.Service.
//
//	HubService       websocket.Hub.RunWithContext
//	CaptureService   capture.Bridge.Serve over a chosen feed
//	CloserService    keeps a transport open until shutdown
//	HTTPServerService http.Server with graceful shutdown
package services
