// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package audit records who did what to which object.
//
// Writes are asynchronous and best-effort: Logger.Log never blocks and never
// fails the caller. Events land in the append-only audit_events table and are
// removed only by the retention cleanup.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Actions recorded by the pipeline.
const (
	ActionIncidentAcknowledged = "incident.acknowledged"
	ActionRuleUpserted         = "rule.upserted"
	ActionChannelUpserted      = "channel.upserted"
	ActionServiceUpserted      = "service.upserted"
)

// Event is one audit_events row.
type Event struct {
	ID            string          `json:"id"`
	OrgID         string          `json:"orgId"`
	ActorUserID   string          `json:"actorUserId,omitempty"`
	Action        string          `json:"action"`
	TargetType    string          `json:"targetType"`
	TargetID      string          `json:"targetId,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// QueryFilter selects events for listing. Zero values match everything.
type QueryFilter struct {
	OrgID  string
	Action string
	Actor  string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// Default and maximum page sizes for admin listings.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Normalize clamps Limit and Offset into range.
func (f *QueryFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	Count(ctx context.Context, filter QueryFilter) (int64, error)
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// Recorder is what domain packages depend on.
type Recorder interface {
	Log(ctx context.Context, event *Event)
}

// Meta encodes v for Event.Meta, returning an empty object on error.
func Meta(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
