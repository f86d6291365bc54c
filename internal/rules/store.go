// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/audit"
	"github.com/tomtom215/sentinel/internal/database"
	"github.com/tomtom215/sentinel/internal/models"
)

// Store manages services, rules and incidents. Rules and services are
// owned by operators; the store exposes upserts for seeding.
type Store struct {
	db      *database.DB
	auditor audit.Recorder
	now     func() time.Time
}

// NewStore returns a store on db. auditor may be nil.
func NewStore(db *database.DB, auditor audit.Recorder) *Store {
	return &Store{db: db, auditor: auditor, now: time.Now}
}

func (s *Store) audit(ctx context.Context, ev *audit.Event) {
	if s.auditor != nil {
		s.auditor.Log(ctx, ev)
	}
}

// UpsertService inserts or updates a service.
func (s *Store) UpsertService(ctx context.Context, svc *models.Service) (err error) {
	defer database.Observe("UPSERT", "services", time.Now(), &err)

	if svc.ID == "" || svc.OrgID == "" {
		return errors.New("service id and org are required")
	}
	if svc.RetentionDays != nil && *svc.RetentionDays < 1 {
		return fmt.Errorf("retention days must be positive, got %d", *svc.RetentionDays)
	}

	var retention interface{}
	if svc.RetentionDays != nil {
		retention = *svc.RetentionDays
	}
	_, err = s.db.Conn().ExecContext(ctx, `INSERT INTO services (id, org_id, name, retention_days)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (org_id, id) DO UPDATE SET name = excluded.name, retention_days = excluded.retention_days`,
		svc.ID, svc.OrgID, svc.Name, retention)
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}

	s.audit(ctx, &audit.Event{
		OrgID:      svc.OrgID,
		Action:     audit.ActionServiceUpserted,
		TargetType: "service",
		TargetID:   svc.ID,
	})
	return nil
}

// ValidateRule checks a rule before it is stored.
func ValidateRule(r *models.Rule) error {
	switch {
	case r.OrgID == "" || r.ServiceID == "":
		return errors.New("rule org and service are required")
	case r.Name == "":
		return errors.New("rule name is required")
	case r.WindowSeconds <= 0:
		return fmt.Errorf("window must be positive, got %d", r.WindowSeconds)
	case r.Condition.Field != models.FieldCount && r.Condition.Field != models.FieldErrorRate:
		return fmt.Errorf("unknown rule field %q", r.Condition.Field)
	case r.Condition.Level != "" && !r.Condition.Level.Valid():
		return fmt.Errorf("unknown level filter %q", r.Condition.Level)
	}
	if _, err := r.Condition.Comparator.Holds(0, 0); err != nil {
		return err
	}
	return nil
}

// UpsertRule inserts r when r.ID is 0 and updates it otherwise. r.ID is set
// on insert.
func (s *Store) UpsertRule(ctx context.Context, r *models.Rule) (err error) {
	defer database.Observe("UPSERT", "rules", time.Now(), &err)

	if err := ValidateRule(r); err != nil {
		return err
	}
	now := s.now().UTC()
	var level interface{}
	if r.Condition.Level != "" {
		level = string(r.Condition.Level)
	}

	if r.ID == 0 {
		err = s.db.Conn().QueryRowContext(ctx, `INSERT INTO rules
			(org_id, service_id, name, field, comparator, threshold, level_filter, window_seconds, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			r.OrgID, r.ServiceID, r.Name, string(r.Condition.Field), string(r.Condition.Comparator),
			r.Condition.Threshold, level, r.WindowSeconds, r.Enabled, now, now,
		).Scan(&r.ID)
		if err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
		r.CreatedAt = now
	} else {
		res, err := s.db.Conn().ExecContext(ctx, `UPDATE rules SET
			service_id = ?, name = ?, field = ?, comparator = ?, threshold = ?, level_filter = ?,
			window_seconds = ?, enabled = ?, updated_at = ?
			WHERE id = ? AND org_id = ?`,
			r.ServiceID, r.Name, string(r.Condition.Field), string(r.Condition.Comparator), r.Condition.Threshold,
			level, r.WindowSeconds, r.Enabled, now, r.ID, r.OrgID)
		if err != nil {
			return fmt.Errorf("update rule %d: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("rule %d: %w", r.ID, apperrors.ErrNotFound)
		}
	}
	r.UpdatedAt = now

	s.audit(ctx, &audit.Event{
		OrgID:      r.OrgID,
		Action:     audit.ActionRuleUpserted,
		TargetType: "rule",
		TargetID:   strconv.FormatInt(r.ID, 10),
		Meta:       audit.Meta(r.Condition),
	})
	return nil
}

const ruleColumns = `id, org_id, service_id, name, field, comparator, threshold, level_filter,
	window_seconds, enabled, created_at, updated_at`

// EnabledRules returns every enabled rule ordered by id.
func (s *Store) EnabledRules(ctx context.Context) (rules []models.Rule, err error) {
	defer database.Observe("SELECT", "rules", time.Now(), &err)

	rows, err := s.db.Conn().QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// GetRule returns rule id.
func (s *Store) GetRule(ctx context.Context, id int64) (*models.Rule, error) {
	r, err := scanRule(s.db.Conn().QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(sc scanner) (*models.Rule, error) {
	var r models.Rule
	var field, comparator string
	var level sql.NullString
	if err := sc.Scan(&r.ID, &r.OrgID, &r.ServiceID, &r.Name, &field, &comparator, &r.Condition.Threshold,
		&level, &r.WindowSeconds, &r.Enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Condition.Field = models.RuleField(field)
	r.Condition.Comparator = models.Comparator(comparator)
	r.Condition.Level = models.Level(level.String)
	return &r, nil
}

const incidentColumns = `id, org_id, service_id, rule_id, status, opened_at, last_seen_at, resolved_at,
	acknowledged_at, acknowledged_by, occurrence_count`

func scanIncident(sc scanner) (*models.Incident, error) {
	var inc models.Incident
	var status string
	var resolvedAt, ackAt sql.NullTime
	var ackBy sql.NullString
	if err := sc.Scan(&inc.ID, &inc.OrgID, &inc.ServiceID, &inc.RuleID, &status, &inc.OpenedAt, &inc.LastSeenAt,
		&resolvedAt, &ackAt, &ackBy, &inc.OccurrenceCount); err != nil {
		return nil, err
	}
	inc.Status = models.IncidentStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inc.ResolvedAt = &t
	}
	if ackAt.Valid {
		t := ackAt.Time
		inc.AcknowledgedAt = &t
	}
	inc.AcknowledgedBy = ackBy.String
	return &inc, nil
}

// GetIncident returns incident id.
func (s *Store) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	inc, err := scanIncident(s.db.Conn().QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %d: %w", id, apperrors.ErrNotFound)
	}
	return inc, err
}

// IncidentsForRule returns all incidents of a rule and service, oldest first.
func (s *Store) IncidentsForRule(ctx context.Context, ruleID int64, serviceID string) (incidents []models.Incident, err error) {
	defer database.Observe("SELECT", "incidents", time.Now(), &err)

	rows, err := s.db.Conn().QueryContext(ctx, `SELECT `+incidentColumns+` FROM incidents
		WHERE rule_id = ? AND service_id = ? ORDER BY id`, ruleID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

// Acknowledge moves an open incident to acknowledged and records actor.
// Acknowledging an already acknowledged incident is a no-op; a resolved one
// cannot be acknowledged.
func (s *Store) Acknowledge(ctx context.Context, orgID string, incidentID int64, actor string) (inc *models.Incident, err error) {
	defer database.Observe("UPDATE", "incidents", time.Now(), &err)

	now := s.now().UTC()
	res, err := s.db.Conn().ExecContext(ctx, `UPDATE incidents
		SET status = ?, acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ? AND org_id = ? AND status = ?`,
		string(models.IncidentAcknowledged), now, actor, incidentID, orgID, string(models.IncidentOpen))
	if err != nil {
		return nil, fmt.Errorf("acknowledge incident %d: %w", incidentID, err)
	}
	changed, _ := res.RowsAffected()

	inc, err = s.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc.OrgID != orgID {
		return nil, fmt.Errorf("incident %d: %w", incidentID, apperrors.ErrNotFound)
	}
	if changed == 0 && inc.Status == models.IncidentResolved {
		return nil, apperrors.NewBatchError(fmt.Sprintf("incident %d is resolved", incidentID))
	}

	if changed > 0 {
		s.audit(ctx, &audit.Event{
			OrgID:       orgID,
			ActorUserID: actor,
			Action:      audit.ActionIncidentAcknowledged,
			TargetType:  "incident",
			TargetID:    strconv.FormatInt(incidentID, 10),
			Meta:        audit.Meta(map[string]interface{}{"ruleId": inc.RuleID, "serviceId": inc.ServiceID}),
		})
	}
	return inc, nil
}
