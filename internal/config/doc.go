// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

/*
Package config loads Sentinel's runtime configuration.

Sources are layered with Koanf v2: struct defaults, then an optional YAML file
(CONFIG_PATH, ./config.yaml or /etc/sentinel/config.yaml), then environment
variables. Only variables listed in the env mapping are read.

Common environment variables:

	HTTP_PORT               listener port (default 8080)
	DUCKDB_PATH             database file
	CRON_SECRET             shared secret for /api/cron/* (empty disables cron routes)
	RETENTION_DEFAULT_DAYS  retention for services without their own (default 7)
	INGEST_RATE_LIMIT       entries per org per window (default 1200)
	RATE_LIMIT_BACKEND      memory or badger
	EVENTS_BACKEND          gochannel or nats
	JWT_SECRET              HS256 key for admin bearer tokens

CRON_SECRET, JWT_SECRET and SMTP_PASSWORD may hold an
arn:aws:secretsmanager: ARN; ResolveSecrets swaps in the stored value.
*/
package config
