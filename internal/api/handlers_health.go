// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/respond"
)

var startTime = time.Now()

// HealthLive answers 200 while the process is up, regardless of
// dependencies.
func (router *Router) HealthLive(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(startTime).Seconds(),
	})
}

// HealthReady answers 200 when the database responds to a ping within two
// seconds and 503 otherwise.
func (router *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbConnected := router.deps.DB != nil && router.deps.DB.Ping(ctx) == nil
	if !dbConnected {
		logging.CtxWarn(r.Context()).Msg("Readiness check failed: database unreachable")
		respond.Error(w, http.StatusServiceUnavailable, apperrors.CodeUnavailable, "database unreachable", nil)
		return
	}
	respond.OK(w, http.StatusOK, map[string]interface{}{"ready": true, "database": "ok"})
}

func (router *Router) notFound(w http.ResponseWriter, r *http.Request) {
	respond.Err(w, r, apperrors.ErrNotFound)
}
