// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Command server runs Sentinel: telemetry ingestion, rule evaluation and
// alert dispatch over one DuckDB database.
//
// # Startup
//
//  1. Configuration: koanf defaults, optional config.yaml, environment.
//     Secrets given as Secrets Manager ARNs are resolved.
//  2. Database: DuckDB with versioned migrations.
//  3. Pipeline: ingestion gate and rate windows, retention sweeper (with
//     optional S3 archival), rule engine, notification dispatcher.
//  4. Jobs: registered under the routes cleanup, evaluate and
//     notifications.process, and exposed at POST /api/cron/{job}.
//  5. Supervisor tree: HTTP server, incident-change trigger, audit
//     retention, rate window maintenance and, when enabled, the in-process
//     scheduler.
//
// # Environment
//
// Common settings:
//
//	HTTP_PORT=8080
//	DUCKDB_PATH=/data/sentinel.duckdb
//	CRON_SECRET=...                      # or an arn:aws:secretsmanager:... ARN
//	JWT_SECRET=...                       # enables the admin API
//	RATE_LIMIT_BACKEND=badger            # share windows across processes
//	RETENTION_ARCHIVE_URL=s3://bucket/logs
//	EVENTS_BACKEND=nats NATS_URL=nats://nats:4222
//	CRON_SCHEDULER_ENABLED=true          # when no external trigger exists
//
// # Signals
//
// SIGINT and SIGTERM cancel the tree. In-flight requests drain for
// server.shutdown_timeout and running jobs finish recording their CronRun.
package main
