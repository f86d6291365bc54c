// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

/*
Package metrics holds the Prometheus collectors for the pipeline.

Collectors are registered on the default registry through promauto and served
at /metrics:

	curl http://localhost:8080/metrics

# Available Metrics

Ingestion:
  - ingest_entries_accepted_total{org_id}
  - ingest_batches_rejected_total{reason}
  - ingest_batch_entries

Jobs:
  - cron_job_runs_total{job,status}
  - cron_job_duration_seconds{job}
  - cron_ledger_write_errors_total{op}
  - retention_entries_deleted_total

Incidents and notifications:
  - incident_transitions_total{transition}
  - notification_deliveries_total{channel_type,result}
  - notification_delivery_duration_seconds{channel_type}
  - circuit_breaker_state{name}
  - incident_events_published_total{result}

HTTP and storage:
  - api_requests_total, api_request_duration_seconds, api_active_requests
  - duckdb_query_duration_seconds, duckdb_query_errors_total
*/
package metrics
