// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package api is the HTTP surface of the server: CRUD for matches and
profiles, health probes, Prometheus metrics and the realtime upgrade.

Routes:

	GET    /metrics                  Prometheus exposition
	GET    /api/v1/health/live       liveness
	GET    /api/v1/health/ready      readiness (datastore ping, gateway gauges)
	GET    /api/v1/ws                websocket upgrade, authenticated in-band
	GET    /api/v1/matches           list the caller's matches (limit, offset)
	POST   /api/v1/matches           create a match with a counterpart
	PATCH  /api/v1/matches/{id}      update status or note
	DELETE /api/v1/matches/{id}      remove a match
	GET    /api/v1/profiles/{id}     public profile
	PUT    /api/v1/profiles/me       create or replace the caller's profile

Every /api/v1 route except health and ws requires a bearer JWT. Only the two
participants of a match may read or change it; anyone else gets 403.

Responses use the models.APIResponse envelope. Errors carry a stable code:

	400 VALIDATION_ERROR  401 UNAUTHORIZED  403 FORBIDDEN
	404 NOT_FOUND         429 RATE_LIMITED  500 INTERNAL_ERROR

When the datastore has no native change feed (DuckDB), every committed write
is also handed to a ChangePublisher so the capture bridge sees it. Publishing
is synchronous to keep per-row order; failures are logged and never fail the
request.
*/
package api
