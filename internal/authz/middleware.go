// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package authz

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
	"github.com/tomtom215/sentinel/internal/respond"
)

type contextKey struct{}

// PrincipalFromContext returns the caller set by Middleware, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}

// ContextWithPrincipal stores p in ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// Middleware gates handlers behind a bearer token and a role check.
type Middleware struct {
	verifier *Verifier
	enforcer *Enforcer
}

// NewMiddleware returns a middleware using verifier and enforcer.
func NewMiddleware(verifier *Verifier, enforcer *Enforcer) *Middleware {
	return &Middleware{verifier: verifier, enforcer: enforcer}
}

// Require returns middleware that lets a request through only when its
// principal may perform action on object. A missing or invalid token is 401,
// an insufficient role is 403.
func (m *Middleware) Require(object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				metrics.AuthzDecisions.WithLabelValues("unauthenticated").Inc()
				respond.Err(w, r, apperrors.ErrUnauthorized)
				return
			}

			principal, err := m.verifier.Verify(token)
			if err != nil {
				metrics.AuthzDecisions.WithLabelValues("unauthenticated").Inc()
				logging.CtxWarn(r.Context()).Err(err).Msg("rejected bearer token")
				respond.Err(w, r, apperrors.ErrUnauthorized)
				return
			}

			allowed, err := m.enforcer.Allowed(principal.Subject, principal.Roles, object, action)
			if err != nil {
				metrics.AuthzDecisions.WithLabelValues("error").Inc()
				respond.Err(w, r, err)
				return
			}
			if !allowed {
				metrics.AuthzDecisions.WithLabelValues("denied").Inc()
				logging.CtxInfo(r.Context()).
					Str("subject", principal.Subject).
					Str("object", object).
					Str("action", action).
					Msg("authorization denied")
				respond.Err(w, r, apperrors.ErrForbidden)
				return
			}

			metrics.AuthzDecisions.WithLabelValues("allowed").Inc()
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
