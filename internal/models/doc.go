// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

/*
Package models defines the records shared by the ingestion, evaluation and
dispatch stages, plus the JSON envelope used by every HTTP response.

Model Categories:

 1. Telemetry: LogEntry, LogEntryInput, IngestRequest, Scope, Service
 2. Rules: Rule, Condition, Incident
 3. Notifications: NotificationChannel, NotificationEvent, IncidentSnapshot,
    DeliveryAttempt
 4. Ledger: CronRun
 5. API: Envelope, APIError, Page

Storage lives elsewhere; these types carry no database handles.
*/
package models
