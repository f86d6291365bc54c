// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package rules evaluates monitoring rules against recent telemetry and
// maintains incidents.
//
// An incident is live (open or acknowledged) from the first breaching pass
// until the first non-breaching pass. While live it holds open_key
// "<rule_id>:<service_id>", whose UNIQUE constraint allows at most one live
// incident per rule and service even when passes overlap. Resolution clears
// the key, so the next breach opens a new incident.
//
// Every transition that needs a notification enqueues a notification_events
// row in the same transaction, keyed "<incident_id>:<kind>" so a retried
// pass cannot enqueue twice.
package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/cron"
	"github.com/tomtom215/sentinel/internal/database"
	"github.com/tomtom215/sentinel/internal/events"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
	"github.com/tomtom215/sentinel/internal/models"
)

// JobName is the ledger name of an evaluation pass.
const JobName = "rules.evaluate"

// conflictRetries bounds how often a transition is retried after losing a
// write race to a concurrent pass.
const conflictRetries = 5

// Engine runs evaluation passes.
type Engine struct {
	db        *database.DB
	store     *Store
	publisher events.Publisher
	now       func() time.Time
}

// NewEngine returns an engine. publisher may be nil.
func NewEngine(db *database.DB, store *Store, publisher events.Publisher) *Engine {
	return &Engine{db: db, store: store, publisher: publisher, now: time.Now}
}

// Name implements cron.Job.
func (e *Engine) Name() string { return JobName }

// PassResult counts what one pass did.
type PassResult struct {
	RulesEvaluated    int
	IncidentsOpened   int
	IncidentsUpdated  int
	IncidentsResolved int
}

// Summary converts r to the ledger summary.
func (r PassResult) Summary() cron.Summary {
	return cron.Summary{
		"rulesEvaluated":    r.RulesEvaluated,
		"incidentsOpened":   r.IncidentsOpened,
		"incidentsUpdated":  r.IncidentsUpdated,
		"incidentsResolved": r.IncidentsResolved,
	}
}

// Execute implements cron.Job.
func (e *Engine) Execute(ctx context.Context) (cron.Summary, error) {
	res, err := e.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return res.Summary(), nil
}

// Evaluate runs one pass over all enabled rules. Each rule's transition
// commits independently; a failing rule does not stop the others, but any
// failure fails the pass.
func (e *Engine) Evaluate(ctx context.Context) (PassResult, error) {
	var res PassResult
	rules, err := e.store.EnabledRules(ctx)
	if err != nil {
		return res, err
	}

	now := e.now().UTC()
	var errs []error
	for i := range rules {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rule := &rules[i]
		outcome, err := e.evaluateRule(ctx, rule, now)
		if err != nil {
			logging.CtxErr(ctx, err).Int64("rule_id", rule.ID).Msg("Rule evaluation failed")
			errs = append(errs, fmt.Errorf("rule %d: %w", rule.ID, err))
			continue
		}
		res.RulesEvaluated++
		switch outcome {
		case outcomeOpened:
			res.IncidentsOpened++
		case outcomeUpdated:
			res.IncidentsUpdated++
		case outcomeResolved:
			res.IncidentsResolved++
		}
	}

	return res, errors.Join(errs...)
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeOpened
	outcomeUpdated
	outcomeResolved
)

func (e *Engine) evaluateRule(ctx context.Context, rule *models.Rule, now time.Time) (outcome, error) {
	from, to := rule.Window(now)
	value, err := e.aggregate(ctx, rule, from, to)
	if err != nil {
		return outcomeNone, err
	}

	breached, err := rule.Condition.Comparator.Holds(value, rule.Condition.Threshold)
	if err != nil {
		return outcomeNone, err
	}

	var out outcome
	var ev *events.IncidentChanged
	err = database.RetryOnConflict(ctx, conflictRetries, func() error {
		var err error
		if breached {
			out, ev, err = e.recordBreach(ctx, rule, value, now)
		} else {
			out, ev, err = e.recordRecovery(ctx, rule, value, now)
		}
		return err
	})
	if err != nil {
		return outcomeNone, err
	}

	if ev != nil {
		e.publish(ctx, *ev)
	}
	return out, nil
}

// aggregate computes the rule's field over [from, to).
func (e *Engine) aggregate(ctx context.Context, rule *models.Rule, from, to time.Time) (value float64, err error) {
	defer database.Observe("SELECT", "log_entries", time.Now(), &err)

	const scope = ` FROM log_entries WHERE org_id = ? AND service_id = ? AND timestamp >= ? AND timestamp < ?`
	args := []interface{}{rule.OrgID, rule.ServiceID, from, to}

	switch rule.Condition.Field {
	case models.FieldCount:
		query := `SELECT COUNT(*)` + scope
		if rule.Condition.Level != "" {
			query += ` AND level = ?`
			args = append(args, string(rule.Condition.Level))
		}
		var n int64
		if err := e.db.Conn().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return 0, fmt.Errorf("count entries: %w", err)
		}
		return float64(n), nil

	case models.FieldErrorRate:
		var total, errorsN int64
		query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE level = 'error')` + scope
		if err := e.db.Conn().QueryRowContext(ctx, query, args...).Scan(&total, &errorsN); err != nil {
			return 0, fmt.Errorf("error rate: %w", err)
		}
		if total == 0 {
			return 0, nil
		}
		return float64(errorsN) / float64(total), nil

	default:
		return 0, fmt.Errorf("unknown rule field %q", rule.Condition.Field)
	}
}

func openKey(rule *models.Rule) string {
	return strconv.FormatInt(rule.ID, 10) + ":" + rule.ServiceID
}

// recordBreach opens the live incident or bumps its occurrence count.
func (e *Engine) recordBreach(ctx context.Context, rule *models.Rule, value float64, now time.Time) (out outcome, ev *events.IncidentChanged, err error) {
	defer database.Observe("UPSERT", "incidents", time.Now(), &err)

	err = e.db.WithTx(ctx, func(tx *sql.Tx) error {
		var id int64
		var count int
		var openedAt time.Time
		err := tx.QueryRowContext(ctx, `INSERT INTO incidents
			(org_id, service_id, rule_id, status, opened_at, last_seen_at, occurrence_count, open_key)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT (open_key) DO UPDATE SET
				occurrence_count = occurrence_count + 1,
				last_seen_at = excluded.last_seen_at
			RETURNING id, occurrence_count, opened_at`,
			rule.OrgID, rule.ServiceID, rule.ID, string(models.IncidentOpen), now, now, openKey(rule),
		).Scan(&id, &count, &openedAt)
		if err != nil {
			return fmt.Errorf("upsert incident: %w", err)
		}

		if count > 1 {
			out = outcomeUpdated
			return nil
		}

		snapshot := models.IncidentSnapshot{
			IncidentID:      id,
			RuleID:          rule.ID,
			RuleName:        rule.Name,
			ServiceID:       rule.ServiceID,
			Status:          models.IncidentOpen,
			Field:           rule.Condition.Field,
			Comparator:      rule.Condition.Comparator,
			Threshold:       rule.Condition.Threshold,
			Value:           value,
			OccurrenceCount: count,
			OpenedAt:        openedAt,
		}
		eventID, err := enqueue(ctx, tx, rule.OrgID, models.EventIncidentOpened, &snapshot, now)
		if err != nil {
			return err
		}
		out = outcomeOpened
		ev = &events.IncidentChanged{
			Kind: models.EventIncidentOpened, EventID: eventID, IncidentID: id, RuleID: rule.ID,
			OrgID: rule.OrgID, ServiceID: rule.ServiceID, OccurredAt: now,
		}
		return nil
	})
	if err != nil {
		return outcomeNone, nil, err
	}

	switch out {
	case outcomeOpened:
		metrics.IncidentTransitions.WithLabelValues("opened").Inc()
	case outcomeUpdated:
		metrics.IncidentTransitions.WithLabelValues("updated").Inc()
	}
	return out, ev, nil
}

// recordRecovery resolves the live incident, if any.
func (e *Engine) recordRecovery(ctx context.Context, rule *models.Rule, value float64, now time.Time) (out outcome, ev *events.IncidentChanged, err error) {
	defer database.Observe("UPDATE", "incidents", time.Now(), &err)

	err = e.db.WithTx(ctx, func(tx *sql.Tx) error {
		var id int64
		var count int
		var openedAt time.Time
		err := tx.QueryRowContext(ctx, `UPDATE incidents
			SET status = ?, resolved_at = ?, open_key = NULL
			WHERE open_key = ?
			RETURNING id, occurrence_count, opened_at`,
			string(models.IncidentResolved), now, openKey(rule),
		).Scan(&id, &count, &openedAt)
		if errors.Is(err, sql.ErrNoRows) {
			out = outcomeNone
			return nil
		}
		if err != nil {
			return fmt.Errorf("resolve incident: %w", err)
		}

		resolvedAt := now
		snapshot := models.IncidentSnapshot{
			IncidentID:      id,
			RuleID:          rule.ID,
			RuleName:        rule.Name,
			ServiceID:       rule.ServiceID,
			Status:          models.IncidentResolved,
			Field:           rule.Condition.Field,
			Comparator:      rule.Condition.Comparator,
			Threshold:       rule.Condition.Threshold,
			Value:           value,
			OccurrenceCount: count,
			OpenedAt:        openedAt,
			ResolvedAt:      &resolvedAt,
		}
		eventID, err := enqueue(ctx, tx, rule.OrgID, models.EventIncidentResolved, &snapshot, now)
		if err != nil {
			return err
		}
		out = outcomeResolved
		ev = &events.IncidentChanged{
			Kind: models.EventIncidentResolved, EventID: eventID, IncidentID: id, RuleID: rule.ID,
			OrgID: rule.OrgID, ServiceID: rule.ServiceID, OccurredAt: now,
		}
		return nil
	})
	if err != nil {
		return outcomeNone, nil, err
	}
	if out == outcomeResolved {
		metrics.IncidentTransitions.WithLabelValues("resolved").Inc()
	}
	return out, ev, nil
}

// enqueue inserts a pending notification event. It returns 0 when the
// event already exists.
func enqueue(ctx context.Context, tx *sql.Tx, orgID string, kind models.EventKind, snapshot *models.IncidentSnapshot, now time.Time) (int64, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	dedupeKey := strconv.FormatInt(snapshot.IncidentID, 10) + ":" + string(kind)

	var id int64
	err = tx.QueryRowContext(ctx, `INSERT INTO notification_events
		(org_id, incident_id, kind, status, attempts, payload, created_at, dedupe_key)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING id`,
		orgID, snapshot.IncidentID, string(kind), string(models.EventPending), string(payload), now, dedupeKey,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return id, nil
}

// publish hints the dispatcher after commit. Failure only delays delivery
// to the next scheduled run.
func (e *Engine) publish(ctx context.Context, ev events.IncidentChanged) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishIncident(ctx, ev); err != nil {
		logging.CtxWarn(ctx).Err(err).Int64("incident_id", ev.IncidentID).Str("kind", string(ev.Kind)).Msg("Failed to publish incident event")
	}
}
