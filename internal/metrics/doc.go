// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package metrics provides Prometheus collectors for the Tandem server and
client SDK.

All collectors are registered on the default registry via promauto and are
served by the API at /metrics.

Gateway Metrics:
  - tandem_ws_connections: registered realtime connections (gauge)
  - tandem_ws_users: users with at least one connection (gauge)
  - tandem_ws_deliveries_total: per-connection deliveries by result
  - tandem_ws_auth_total: authentication attempts by result
  - tandem_ws_superseded_total: connections replaced for the same browser

Change-Capture Metrics:
  - tandem_capture_events_total: row changes by table and operation
  - tandem_capture_enrichment_failures_total: failed lookups (delivery continued)
  - tandem_capture_processing_duration_seconds: receive-to-deliver latency

Client Store Metrics:
  - tandem_store_mutations_total: settled mutations by store, kind, outcome
  - tandem_store_push_events_total: reconciled pushes by store and result

Circuit breakers report circuit_breaker_state (0=closed, 1=half-open,
2=open) and circuit_breaker_state_transitions_total.

Example alert:

	- alert: EnrichmentDegraded
	  expr: rate(tandem_capture_enrichment_failures_total[5m]) > 0.1
	  for: 10m
*/
package metrics
