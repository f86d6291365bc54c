// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package authz gates the admin surface.
//
// Users and their roles live in an external identity service, which issues
// HS256 bearer tokens carrying a subject, an org and a list of roles. This
// package only consumes them:
//
//	Request -> Middleware.Require(object, action) -> Handler
//	               |                |
//	          Verifier.Verify   Enforcer.Allowed (Casbin RBAC)
//
// # Embedded policy
//
// model.conf is a plain RBAC model with role inheritance and a "*" action
// wildcard. policy.csv grants:
//   - admin: everything on admin and incidents
//   - auditor: read on admin
//   - operator: write on incidents
//   - owner: inherits admin
//
// A file policy can replace the embedded one through auth.policy_path and is
// reloaded periodically.
//
// # Responses
//
// A missing or invalid token answers 401 UNAUTHORIZED; a valid token whose
// roles do not allow the request answers 403 FORBIDDEN. Both use the shared
// response envelope.
package authz
