// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/sentinel/internal/database"
)

// DuckDBStore implements Store on the audit_events table.
type DuckDBStore struct {
	db *database.DB
}

// NewDuckDBStore returns a store on db. The schema is created by the
// database package.
func NewDuckDBStore(db *database.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// Save inserts event.
func (s *DuckDBStore) Save(ctx context.Context, event *Event) (err error) {
	defer database.Observe("INSERT", "audit_events", time.Now(), &err)

	var meta interface{}
	if len(event.Meta) > 0 {
		meta = string(event.Meta)
	}
	_, err = s.db.Conn().ExecContext(ctx, `INSERT INTO audit_events
		(id, org_id, actor_user_id, action, target_type, target_id, meta, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.OrgID, nullable(event.ActorUserID), event.Action, event.TargetType,
		nullable(event.TargetID), meta, nullable(event.CorrelationID), event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query returns matching events newest first.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) (events []Event, err error) {
	defer database.Observe("SELECT", "audit_events", time.Now(), &err)

	where, args := buildFilterConditions(filter)
	query := `SELECT id, org_id, actor_user_id, action, target_type, target_id, CAST(meta AS TEXT), correlation_id, created_at
		FROM audit_events` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Event
		var actor, target, meta, corr sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &actor, &e.Action, &e.TargetType, &target, &meta, &corr, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ActorUserID = actor.String
		e.TargetID = target.String
		e.CorrelationID = corr.String
		if meta.Valid {
			e.Meta = []byte(meta.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of matching events.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (n int64, err error) {
	defer database.Observe("SELECT", "audit_events", time.Now(), &err)

	where, args := buildFilterConditions(filter)
	err = s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&n)
	return n, err
}

// Delete removes events created before olderThan.
func (s *DuckDBStore) Delete(ctx context.Context, olderThan time.Time) (n int64, err error) {
	defer database.Observe("DELETE", "audit_events", time.Now(), &err)

	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	return res.RowsAffected()
}

func buildFilterConditions(filter QueryFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(cond string, v interface{}) {
		conditions = append(conditions, cond)
		args = append(args, v)
	}
	if filter.OrgID != "" {
		add("org_id = ?", filter.OrgID)
	}
	if filter.Action != "" {
		add("action = ?", filter.Action)
	}
	if filter.Actor != "" {
		add("actor_user_id = ?", filter.Actor)
	}
	if !filter.Since.IsZero() {
		add("created_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		add("created_at < ?", filter.Until.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
