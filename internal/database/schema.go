// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package database

import (
	"context"
	"fmt"
	"time"
)

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// tableQueries is the complete schema.
//
// incidents.open_key is "<rule_id>:<service_id>" while the incident is not
// resolved and NULL afterwards. Its UNIQUE constraint is what guarantees a
// single live incident per (rule, service) under concurrent evaluation.
//
// notification_events.dedupe_key is "<incident_id>:<kind>", making enqueue
// idempotent.
var tableQueries = []string{
	`CREATE SEQUENCE IF NOT EXISTS rules_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS incidents_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS channels_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS notification_events_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS notification_deliveries_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS cron_runs_id_seq START 1`,

	`CREATE TABLE IF NOT EXISTS log_entries (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		environment_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata JSON,
		trace_id TEXT,
		request_id TEXT,
		ingested_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS services (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		retention_days INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (org_id, id)
	)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id BIGINT PRIMARY KEY DEFAULT nextval('rules_id_seq'),
		org_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		name TEXT NOT NULL,
		field TEXT NOT NULL,
		comparator TEXT NOT NULL,
		threshold DOUBLE NOT NULL,
		level_filter TEXT,
		window_seconds INTEGER NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS incidents (
		id BIGINT PRIMARY KEY DEFAULT nextval('incidents_id_seq'),
		org_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		rule_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		opened_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		acknowledged_at TIMESTAMPTZ,
		acknowledged_by TEXT,
		occurrence_count INTEGER NOT NULL DEFAULT 1,
		open_key TEXT UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS notification_channels (
		id BIGINT PRIMARY KEY DEFAULT nextval('channels_id_seq'),
		org_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		config JSON NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS notification_events (
		id BIGINT PRIMARY KEY DEFAULT nextval('notification_events_id_seq'),
		org_id TEXT NOT NULL,
		incident_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		payload JSON NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		last_attempt_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		dedupe_key TEXT NOT NULL UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS notification_deliveries (
		id BIGINT PRIMARY KEY DEFAULT nextval('notification_deliveries_id_seq'),
		event_id BIGINT NOT NULL,
		channel_id BIGINT NOT NULL,
		channel_type TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error_code TEXT,
		reason TEXT,
		response_code INTEGER,
		attempted_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS cron_runs (
		id BIGINT PRIMARY KEY DEFAULT nextval('cron_runs_id_seq'),
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		meta JSON
	)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		actor_user_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		meta JSON,
		correlation_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// indexQueries cover the hot read paths: the rule aggregate scan, the
// retention delete, the pending-queue scan and the admin listings.
var indexQueries = []string{
	`CREATE INDEX IF NOT EXISTS idx_log_entries_scope_ts ON log_entries(org_id, service_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_rule ON incidents(rule_id, service_id)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_events_status ON notification_events(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_deliveries_event ON notification_deliveries(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_cron_runs_started ON cron_runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at)`,
}

func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableQueries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range indexQueries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}
	return nil
}
