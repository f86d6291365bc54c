// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/sentinel/internal/audit"
	"github.com/tomtom215/sentinel/internal/authz"
	"github.com/tomtom215/sentinel/internal/ingest"
	"github.com/tomtom215/sentinel/internal/ledger"
	"github.com/tomtom215/sentinel/internal/middleware"
	"github.com/tomtom215/sentinel/internal/models"
)

// Ingester admits telemetry batches. *ingest.Gate implements it.
type Ingester interface {
	Ingest(ctx context.Context, scope models.Scope, batch ingest.Batch) (*ingest.Result, error)
}

// AuditQuerier lists audit events. *audit.Logger implements it.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, int64, error)
}

// RunLister lists CronRuns. *ledger.Store implements it.
type RunLister interface {
	List(ctx context.Context, f ledger.ListFilter) ([]models.CronRun, int64, error)
}

// IncidentAcknowledger moves incidents to acknowledged. *rules.Store
// implements it.
type IncidentAcknowledger interface {
	Acknowledge(ctx context.Context, orgID string, incidentID int64, actor string) (*models.Incident, error)
}

// Pinger reports database reachability. *database.DB implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators behind the routes.
type Dependencies struct {
	Gate      Ingester
	Cron      http.Handler // *cron.Gateway
	Audit     AuditQuerier
	Runs      RunLister
	Incidents IncidentAcknowledger
	DB        Pinger
	Authz     *authz.Middleware

	// MaxBodyBytes is the largest accepted ingestion body. Larger bodies are
	// rejected with 413 before decoding.
	MaxBodyBytes int64

	Middleware ChiMiddlewareConfig
}

// Router owns the handlers and builds the chi mux.
type Router struct {
	deps Dependencies
	chi  *ChiMiddleware
}

// NewRouter returns a router over deps.
func NewRouter(deps Dependencies) *Router {
	return &Router{deps: deps, chi: NewChiMiddleware(deps.Middleware)}
}

// Handler returns the configured http.Handler.
func (router *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chi.CORS()) // global so OPTIONS preflight is answered
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.HealthLive)
		r.Get("/ready", router.HealthReady)
	})

	r.With(router.chi.IngestShield()).HandleFunc("/api/v1/logs", router.IngestLogs)

	// The gateway answers 405 itself so non-POST methods still get the
	// envelope and the correlation id.
	r.With(middleware.CorrelationID).Handle("/api/cron/{job}", router.deps.Cron)

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(router.deps.Authz.Require(authz.ObjectAdmin, authz.ActionRead))
		r.Get("/audit-events", router.ListAuditEvents)
		r.Get("/cron-runs", router.ListCronRuns)
	})

	r.With(router.deps.Authz.Require(authz.ObjectIncidents, authz.ActionWrite)).
		Post("/api/v1/incidents/{id}/acknowledge", router.AcknowledgeIncident)

	r.NotFound(router.notFound)
	return r
}
