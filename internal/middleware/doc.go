// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package middleware provides net/http middleware shared by the chi router:
// request and correlation ids, access logging and Prometheus instrumentation.
//
//	r := chi.NewRouter()
//	r.Use(middleware.RequestID, middleware.CorrelationID)
//	r.Use(middleware.AccessLog, middleware.PrometheusMetrics)
package middleware
