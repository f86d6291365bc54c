// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/audit"
	"github.com/tomtom215/sentinel/internal/authz"
	"github.com/tomtom215/sentinel/internal/ledger"
	"github.com/tomtom215/sentinel/internal/models"
	"github.com/tomtom215/sentinel/internal/respond"
)

// ListAuditEvents handles GET /api/v1/admin/audit-events.
//
// Query: limit (default 50, max 500), offset, org_id, action, actor, since
// and until (RFC3339).
func (router *Router) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pagination(q)
	if err != nil {
		respond.Err(w, r, err)
		return
	}

	filter := audit.QueryFilter{
		OrgID:  q.Get("org_id"),
		Action: q.Get("action"),
		Actor:  q.Get("actor"),
		Limit:  limit,
		Offset: offset,
	}
	if filter.Since, err = timeParam(q, "since"); err != nil {
		respond.Err(w, r, err)
		return
	}
	if filter.Until, err = timeParam(q, "until"); err != nil {
		respond.Err(w, r, err)
		return
	}

	events, total, err := router.deps.Audit.Query(r.Context(), filter)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	respond.OK(w, http.StatusOK, &models.Page{Items: events, Total: total, Limit: limit, Offset: offset})
}

// ListCronRuns handles GET /api/v1/admin/cron-runs.
//
// Query: limit, offset, name, status (running, success or failed).
func (router *Router) ListCronRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pagination(q)
	if err != nil {
		respond.Err(w, r, err)
		return
	}

	status := models.RunStatus(q.Get("status"))
	switch status {
	case "", models.RunRunning, models.RunSuccess, models.RunFailed:
	default:
		respond.Err(w, r, &apperrors.ValidationError{Index: -1, Field: "status", Reason: "must be running, success or failed"})
		return
	}

	runs, total, err := router.deps.Runs.List(r.Context(), ledger.ListFilter{
		Name:   q.Get("name"),
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if runs == nil {
		runs = []models.CronRun{}
	}
	respond.OK(w, http.StatusOK, &models.Page{Items: runs, Total: total, Limit: limit, Offset: offset})
}

// AcknowledgeIncident handles POST /api/v1/incidents/{id}/acknowledge. The
// incident must belong to the caller's org.
func (router *Router) AcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	principal := authz.PrincipalFromContext(r.Context())
	if principal == nil || principal.OrgID == "" {
		respond.Err(w, r, apperrors.ErrForbidden)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respond.Err(w, r, &apperrors.ValidationError{Index: -1, Field: "id", Reason: "must be a positive integer"})
		return
	}

	inc, err := router.deps.Incidents.Acknowledge(r.Context(), principal.OrgID, id, principal.Subject)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.OK(w, http.StatusOK, inc)
}

func pagination(q url.Values) (limit, offset int, err error) {
	limit = audit.DefaultLimit
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, &apperrors.ValidationError{Index: -1, Field: "limit", Reason: "must be a positive integer"}
		}
		if limit > audit.MaxLimit {
			limit = audit.MaxLimit
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, &apperrors.ValidationError{Index: -1, Field: "offset", Reason: "must be a non-negative integer"}
		}
	}
	return limit, offset, nil
}

func timeParam(q url.Values, name string) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &apperrors.ValidationError{Index: -1, Field: name, Reason: "must be an RFC3339 timestamp"}
	}
	return t, nil
}
