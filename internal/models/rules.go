// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package models

import (
	"fmt"
	"time"
)

// RuleField names the aggregate a rule condition is evaluated on.
type RuleField string

const (
	// FieldCount is the number of matching entries in the window.
	FieldCount RuleField = "count"

	// FieldErrorRate is error entries divided by all entries in the window.
	// An empty window has rate 0.
	FieldErrorRate RuleField = "error_rate"
)

// Comparator compares an aggregate to a rule's threshold.
type Comparator string

// Supported comparators.
const (
	CompareGT  Comparator = "gt"
	CompareGTE Comparator = "gte"
	CompareLT  Comparator = "lt"
	CompareLTE Comparator = "lte"
	CompareEQ  Comparator = "eq"
	CompareNEQ Comparator = "neq"
)

// Holds reports whether "value <comparator> threshold" is true.
func (c Comparator) Holds(value, threshold float64) (bool, error) {
	switch c {
	case CompareGT:
		return value > threshold, nil
	case CompareGTE:
		return value >= threshold, nil
	case CompareLT:
		return value < threshold, nil
	case CompareLTE:
		return value <= threshold, nil
	case CompareEQ:
		return value == threshold, nil
	case CompareNEQ:
		return value != threshold, nil
	default:
		return false, fmt.Errorf("unknown comparator %q", c)
	}
}

// Condition is the fixed (field, comparator, threshold) grammar. Level
// narrows FieldCount to entries at one level; it is ignored for error_rate.
type Condition struct {
	Field      RuleField  `json:"field"`
	Comparator Comparator `json:"comparator"`
	Threshold  float64    `json:"threshold"`
	Level      Level      `json:"level,omitempty"`
}

// Rule is an operator-defined monitoring condition over one service.
type Rule struct {
	ID            int64     `json:"id"`
	OrgID         string    `json:"orgId"`
	ServiceID     string    `json:"serviceId"`
	Name          string    `json:"name"`
	Condition     Condition `json:"condition"`
	WindowSeconds int       `json:"windowSeconds"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Window returns the evaluation window [now-WindowSeconds, now).
func (r *Rule) Window(now time.Time) (from, to time.Time) {
	return now.Add(-time.Duration(r.WindowSeconds) * time.Second), now
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

// Incident states. Resolved is terminal.
const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

// Incident records one breach of a rule for a service, from first breach to
// resolution.
type Incident struct {
	ID              int64          `json:"id"`
	OrgID           string         `json:"orgId"`
	ServiceID       string         `json:"serviceId"`
	RuleID          int64          `json:"ruleId"`
	Status          IncidentStatus `json:"status"`
	OpenedAt        time.Time      `json:"openedAt"`
	LastSeenAt      time.Time      `json:"lastSeenAt"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`
	AcknowledgedAt  *time.Time     `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy  string         `json:"acknowledgedBy,omitempty"`
	OccurrenceCount int            `json:"occurrenceCount"`
}
