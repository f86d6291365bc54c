// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// ChannelType selects the delivery implementation for a channel.
type ChannelType string

// Supported channel types.
const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelDiscord ChannelType = "discord"
	ChannelWebhook ChannelType = "webhook"
)

// NotificationChannel is a delivery target owned by an organisation. Config
// is interpreted by the channel type.
type NotificationChannel struct {
	ID        int64           `json:"id"`
	OrgID     string          `json:"orgId"`
	Type      ChannelType     `json:"type"`
	Name      string          `json:"name"`
	Config    json.RawMessage `json:"config"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EventKind is the incident transition a notification announces.
type EventKind string

// Notification kinds.
const (
	EventIncidentOpened   EventKind = "incident.opened"
	EventIncidentResolved EventKind = "incident.resolved"
)

// EventStatus tracks a queued notification.
type EventStatus string

// Event states. An event stays pending until one channel accepts it.
const (
	EventPending   EventStatus = "pending"
	EventDelivered EventStatus = "delivered"
)

// IncidentSnapshot is the incident state captured when an event is enqueued.
type IncidentSnapshot struct {
	IncidentID      int64          `json:"incidentId"`
	RuleID          int64          `json:"ruleId"`
	RuleName        string         `json:"ruleName"`
	ServiceID       string         `json:"serviceId"`
	Status          IncidentStatus `json:"status"`
	Field           RuleField      `json:"field"`
	Comparator      Comparator     `json:"comparator"`
	Threshold       float64        `json:"threshold"`
	Value           float64        `json:"value"`
	OccurrenceCount int            `json:"occurrenceCount"`
	OpenedAt        time.Time      `json:"openedAt"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`
}

// NotificationEvent is one entry of the outbound queue.
type NotificationEvent struct {
	ID            int64            `json:"id"`
	OrgID         string           `json:"orgId"`
	IncidentID    int64            `json:"incidentId"`
	Kind          EventKind        `json:"kind"`
	Status        EventStatus      `json:"status"`
	Attempts      int              `json:"attempts"`
	Snapshot      IncidentSnapshot `json:"snapshot"`
	CreatedAt     time.Time        `json:"createdAt"`
	LastAttemptAt *time.Time       `json:"lastAttemptAt,omitempty"`
	DeliveredAt   *time.Time       `json:"deliveredAt,omitempty"`
}

// DeliveryAttempt records the outcome of sending one event to one channel.
type DeliveryAttempt struct {
	ID           int64       `json:"id"`
	EventID      int64       `json:"eventId"`
	ChannelID    int64       `json:"channelId"`
	ChannelType  ChannelType `json:"channelType"`
	Success      bool        `json:"success"`
	ErrorCode    string      `json:"errorCode,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	ResponseCode int         `json:"responseCode,omitempty"`
	AttemptedAt  time.Time   `json:"attemptedAt"`
}
