// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

/*
Package database owns the DuckDB handle and the schema.

Tables:
  - log_entries: ingested telemetry, deleted only by retention
  - services: per-service retention policy
  - rules, incidents: rule definitions and their breach lifecycle
  - notification_channels, notification_events, notification_deliveries:
    outbound alert queue and per-channel attempt history
  - cron_runs: job ledger
  - audit_events: append-only audit trail

Stores in other packages take *DB and issue their own SQL. WithTx and
RetryOnConflict give them transactions and conflict handling; DuckDB uses
optimistic concurrency, so the loser of two concurrent writers to the same
row or unique key sees an error rather than blocking.
*/
package database
