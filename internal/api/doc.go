// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

/*
Package api is the HTTP surface of Sentinel.

Routes:

	POST /api/v1/logs                          telemetry ingestion (X-Org-ID, X-Service-ID, X-Environment-ID)
	POST /api/cron/{job}                       job triggers, authenticated by X-Internal-Cron-Secret
	GET  /api/v1/admin/audit-events            audit trail, bearer token with read on "admin"
	GET  /api/v1/admin/cron-runs               CronRun ledger, bearer token with read on "admin"
	POST /api/v1/incidents/{id}/acknowledge    bearer token with write on "incidents"
	GET  /api/v1/health/live                   liveness
	GET  /api/v1/health/ready                  readiness (database ping)
	GET  /metrics                              Prometheus

Every JSON response uses the models.Envelope shape written by the respond
package. Error codes come from apperrors.

Middleware order, outermost first: request id, real IP, panic recovery,
CORS, Prometheus, access log. The ingestion route adds a per-IP httprate
shield in front of the per-org entry window enforced by ingest.Gate. Cron
routes add the correlation-id middleware.
*/
package api
