// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Level is the severity carried by a log entry.
type Level string

// Accepted log levels.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether l is one of the accepted levels.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// LogEntryInput is one element of an ingest request body. Meta, TraceID and
// RequestID are opaque and stored as given.
type LogEntryInput struct {
	Timestamp string          `json:"timestamp" validate:"required,iso8601"`
	Level     string          `json:"level" validate:"required,oneof=debug info warn error"`
	Message   string          `json:"message" validate:"required,notblank"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	TraceID   string          `json:"traceId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// IngestRequest is the body of POST /api/v1/logs.
type IngestRequest struct {
	Logs []LogEntryInput `json:"logs"`
}

// Scope identifies who a batch belongs to.
type Scope struct {
	OrgID         string `json:"orgId"`
	ServiceID     string `json:"serviceId"`
	EnvironmentID string `json:"environmentId"`
}

// LogEntry is a persisted telemetry record. It is never updated; only the
// retention sweeper deletes it.
type LogEntry struct {
	ID            string          `json:"id"`
	OrgID         string          `json:"orgId"`
	ServiceID     string          `json:"serviceId"`
	EnvironmentID string          `json:"environmentId"`
	Timestamp     time.Time       `json:"timestamp"`
	Level         Level           `json:"level"`
	Message       string          `json:"message"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	TraceID       string          `json:"traceId,omitempty"`
	RequestID     string          `json:"requestId,omitempty"`
	IngestedAt    time.Time       `json:"ingestedAt"`
}

// Service is a monitored service and its retention policy. A nil
// RetentionDays means the configured default applies.
type Service struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"orgId"`
	Name          string    `json:"name"`
	RetentionDays *int      `json:"retentionDays,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
