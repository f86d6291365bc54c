// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/audit"
	"github.com/tomtom215/sentinel/internal/database"
	"github.com/tomtom215/sentinel/internal/models"
)

// Store reads the notification queue and records delivery outcomes.
type Store struct {
	db       *database.DB
	registry *ChannelRegistry
	auditor  audit.Recorder
	now      func() time.Time
}

// NewStore returns a store on db. registry validates channel configs on
// upsert; auditor may be nil.
func NewStore(db *database.DB, registry *ChannelRegistry, auditor audit.Recorder) *Store {
	return &Store{db: db, registry: registry, auditor: auditor, now: time.Now}
}

// UpsertChannel creates a channel when ch.ID is 0 and updates it otherwise.
// The config must validate against the channel type.
func (s *Store) UpsertChannel(ctx context.Context, ch *models.NotificationChannel) (err error) {
	defer database.Observe("UPSERT", "notification_channels", time.Now(), &err)

	if ch.OrgID == "" || ch.Name == "" {
		return errors.New("channel org and name are required")
	}
	if s.registry != nil {
		if err := s.registry.ValidateConfig(ch.Type, ch.Config); err != nil {
			return fmt.Errorf("channel %q: %w", ch.Name, err)
		}
	}

	if ch.ID == 0 {
		now := s.now().UTC()
		err = s.db.Conn().QueryRowContext(ctx, `INSERT INTO notification_channels
			(org_id, type, name, config, enabled, created_at)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
			ch.OrgID, string(ch.Type), ch.Name, string(ch.Config), ch.Enabled, now,
		).Scan(&ch.ID)
		if err != nil {
			return fmt.Errorf("insert channel: %w", err)
		}
		ch.CreatedAt = now
	} else {
		res, err := s.db.Conn().ExecContext(ctx, `UPDATE notification_channels
			SET type = ?, name = ?, config = ?, enabled = ?
			WHERE id = ? AND org_id = ?`,
			string(ch.Type), ch.Name, string(ch.Config), ch.Enabled, ch.ID, ch.OrgID)
		if err != nil {
			return fmt.Errorf("update channel %d: %w", ch.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("channel %d: %w", ch.ID, apperrors.ErrNotFound)
		}
	}

	if s.auditor != nil {
		s.auditor.Log(ctx, &audit.Event{
			OrgID:      ch.OrgID,
			Action:     audit.ActionChannelUpserted,
			TargetType: "channel",
			TargetID:   strconv.FormatInt(ch.ID, 10),
			Meta:       audit.Meta(map[string]interface{}{"type": ch.Type, "enabled": ch.Enabled}),
		})
	}
	return nil
}

// EnabledChannels returns the org's enabled channels ordered by id.
func (s *Store) EnabledChannels(ctx context.Context, orgID string) (channels []models.NotificationChannel, err error) {
	defer database.Observe("SELECT", "notification_channels", time.Now(), &err)

	rows, err := s.db.Conn().QueryContext(ctx, `SELECT id, org_id, type, name, CAST(config AS TEXT), enabled, created_at
		FROM notification_channels WHERE org_id = ? AND enabled ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ch models.NotificationChannel
		var typ, config string
		if err := rows.Scan(&ch.ID, &ch.OrgID, &typ, &ch.Name, &config, &ch.Enabled, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		ch.Type = models.ChannelType(typ)
		ch.Config = json.RawMessage(config)
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

const eventColumns = `id, org_id, incident_id, kind, status, attempts, CAST(payload AS TEXT),
	created_at, last_attempt_at, delivered_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(sc scanner) (*models.NotificationEvent, error) {
	var ev models.NotificationEvent
	var kind, status, payload string
	var lastAttempt, delivered sql.NullTime
	if err := sc.Scan(&ev.ID, &ev.OrgID, &ev.IncidentID, &kind, &status, &ev.Attempts, &payload,
		&ev.CreatedAt, &lastAttempt, &delivered); err != nil {
		return nil, err
	}
	ev.Kind = models.EventKind(kind)
	ev.Status = models.EventStatus(status)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		ev.LastAttemptAt = &t
	}
	if delivered.Valid {
		t := delivered.Time
		ev.DeliveredAt = &t
	}
	if err := json.Unmarshal([]byte(payload), &ev.Snapshot); err != nil {
		return nil, fmt.Errorf("decode event %d payload: %w", ev.ID, err)
	}
	return &ev, nil
}

// PendingEvents returns up to limit pending events, oldest first. Events of
// organisations without an enabled channel are left out so they cannot fill
// every batch.
func (s *Store) PendingEvents(ctx context.Context, limit int) (events []models.NotificationEvent, err error) {
	defer database.Observe("SELECT", "notification_events", time.Now(), &err)

	rows, err := s.db.Conn().QueryContext(ctx, `SELECT `+eventColumns+`
		FROM notification_events e
		WHERE e.status = ?
		  AND EXISTS (SELECT 1 FROM notification_channels c WHERE c.org_id = e.org_id AND c.enabled)
		ORDER BY e.created_at, e.id LIMIT ?`,
		string(models.EventPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// GetEvent returns one event.
func (s *Store) GetEvent(ctx context.Context, id int64) (*models.NotificationEvent, error) {
	ev, err := scanEvent(s.db.Conn().QueryRowContext(ctx, `SELECT `+eventColumns+`
		FROM notification_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, apperrors.ErrNotFound)
	}
	return ev, err
}

// RecordAttempt appends a delivery attempt.
func (s *Store) RecordAttempt(ctx context.Context, a *models.DeliveryAttempt) (err error) {
	defer database.Observe("INSERT", "notification_deliveries", time.Now(), &err)

	err = s.db.Conn().QueryRowContext(ctx, `INSERT INTO notification_deliveries
		(event_id, channel_id, channel_type, success, error_code, reason, response_code, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		a.EventID, a.ChannelID, string(a.ChannelType), a.Success,
		nullString(a.ErrorCode), nullString(a.Reason), nullInt(a.ResponseCode), a.AttemptedAt.UTC(),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

// Attempts returns the attempts recorded for an event in insertion order.
func (s *Store) Attempts(ctx context.Context, eventID int64) (attempts []models.DeliveryAttempt, err error) {
	defer database.Observe("SELECT", "notification_deliveries", time.Now(), &err)

	rows, err := s.db.Conn().QueryContext(ctx, `SELECT id, event_id, channel_id, channel_type, success,
		error_code, reason, response_code, attempted_at
		FROM notification_deliveries WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.DeliveryAttempt
		var typ string
		var code, reason sql.NullString
		var status sql.NullInt64
		if err := rows.Scan(&a.ID, &a.EventID, &a.ChannelID, &typ, &a.Success, &code, &reason, &status, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.ChannelType = models.ChannelType(typ)
		a.ErrorCode = code.String
		a.Reason = reason.String
		a.ResponseCode = int(status.Int64)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// FinishEvent closes one dispatch pass over an event: attempts is bumped,
// and the event becomes delivered when delivered is true. Events that are
// no longer pending are left alone.
func (s *Store) FinishEvent(ctx context.Context, eventID int64, delivered bool, at time.Time) (err error) {
	defer database.Observe("UPDATE", "notification_events", time.Now(), &err)

	at = at.UTC()
	status := models.EventPending
	var deliveredAt interface{}
	if delivered {
		status = models.EventDelivered
		deliveredAt = at
	}
	_, err = s.db.Conn().ExecContext(ctx, `UPDATE notification_events
		SET attempts = attempts + 1, last_attempt_at = ?, status = ?, delivered_at = COALESCE(CAST(? AS TIMESTAMPTZ), delivered_at)
		WHERE id = ? AND status = ?`,
		at, string(status), deliveredAt, eventID, string(models.EventPending))
	if err != nil {
		return fmt.Errorf("finish event %d: %w", eventID, err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
