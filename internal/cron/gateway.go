// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package cron

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/middleware"
	"github.com/tomtom215/sentinel/internal/respond"
)

// HeaderSecret carries the shared cron secret.
const HeaderSecret = "X-Internal-Cron-Secret"

// Gateway is the HTTP trigger for registered jobs, mounted at
// /api/cron/{job}.
type Gateway struct {
	registry *Registry
	runner   *Runner
	secret   []byte
}

// NewGateway returns a gateway. An empty secret rejects every request.
func NewGateway(registry *Registry, runner *Runner, secret string) *Gateway {
	return &Gateway{registry: registry, runner: runner, secret: []byte(secret)}
}

// ServeHTTP authenticates, looks up and runs the job named by the {job}
// route parameter.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := logging.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = r.Header.Get(middleware.HeaderCorrelationID)
		if correlationID == "" || len(correlationID) > 128 {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	}
	w.Header().Set(middleware.HeaderCorrelationID, correlationID)

	if r.Method != http.MethodPost {
		respond.MethodNotAllowed(w, http.MethodPost)
		return
	}

	if !g.authorized(r) {
		logging.CtxWarn(ctx).Str("remote_addr", r.RemoteAddr).Msg("Rejected cron trigger")
		respond.Err(w, r, apperrors.ErrUnauthorized)
		return
	}

	route := chi.URLParam(r, "job")
	job, ok := g.registry.Lookup(route)
	if !ok {
		respond.Error(w, http.StatusNotFound, apperrors.CodeNotFound, "unknown job", nil)
		return
	}

	summary, err := g.runner.Run(ctx, job, route)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, apperrors.CodeJobFailed, err.Error(), nil)
		return
	}
	respond.OK(w, http.StatusOK, summary)
}

func (g *Gateway) authorized(r *http.Request) bool {
	if len(g.secret) == 0 {
		return false
	}
	provided := r.Header.Get(HeaderSecret)
	if provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), g.secret) == 1
}
