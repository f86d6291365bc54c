// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/respond"
)

// ChiMiddlewareConfig configures the chi ecosystem middleware.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins []string
	CORSMaxAge         int // seconds

	// IngestRequestsPerMinute bounds requests per client IP on the ingestion
	// route. 0 disables the shield.
	IngestRequestsPerMinute int
}

// ChiMiddleware builds CORS and per-IP rate limiting middleware.
type ChiMiddleware struct {
	config ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewChiMiddleware returns middleware factories for config. With no allowed
// origins, cross-origin requests get no CORS headers.
func NewChiMiddleware(config ChiMiddlewareConfig) *ChiMiddleware {
	if config.CORSMaxAge == 0 {
		config.CORSMaxAge = 86400
	}
	return &ChiMiddleware{
		config: config,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{
				"Content-Type", "Authorization",
				"X-Org-ID", "X-Service-ID", "X-Environment-ID",
				"X-Correlation-ID", "X-Request-ID",
			},
			ExposedHeaders: []string{"Retry-After", "X-Correlation-ID", "X-Request-ID"},
			MaxAge:         config.CORSMaxAge,
		}),
	}
}

// CORS returns the go-chi/cors handler.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// IngestShield limits ingestion requests per client IP. Rejections use the
// RATE_LIMITED envelope so producers see one error shape for both limits.
func (m *ChiMiddleware) IngestShield() func(http.Handler) http.Handler {
	if m.config.IngestRequestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limit := m.config.IngestRequestsPerMinute
	return httprate.Limit(limit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respond.Err(w, r, &apperrors.RateLimitError{
				Key:        "ip",
				Limit:      limit,
				Window:     time.Minute,
				RetryAfter: retryAfterHeader(w),
			})
		}),
	)
}

// retryAfterHeader reads the reset hint httprate sets before calling the
// limit handler.
func retryAfterHeader(w http.ResponseWriter) time.Duration {
	if v := w.Header().Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return time.Minute
}
