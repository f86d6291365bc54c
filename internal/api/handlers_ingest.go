// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/ingest"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/models"
	"github.com/tomtom215/sentinel/internal/respond"
)

// Ingestion scope headers.
const (
	HeaderOrgID         = "X-Org-ID"
	HeaderServiceID     = "X-Service-ID"
	HeaderEnvironmentID = "X-Environment-ID"
)

// IngestLogs handles POST /api/v1/logs.
//
// The body is {"logs": [...]}. A batch is admitted whole or not at all: 202
// with {"accepted": n}, 400 on the first invalid entry, 413 when the body is
// too large, 429 with Retry-After when the org's window is full.
func (router *Router) IngestLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respond.MethodNotAllowed(w, http.MethodPost)
		return
	}

	scope := models.Scope{
		OrgID:         r.Header.Get(HeaderOrgID),
		ServiceID:     r.Header.Get(HeaderServiceID),
		EnvironmentID: r.Header.Get(HeaderEnvironmentID),
	}
	ctx := r.Context()

	limit := router.deps.MaxBodyBytes
	if limit <= 0 {
		limit = ingest.DefaultOptions().MaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		respond.Err(w, r, apperrors.NewBatchError("unreadable body"))
		return
	}
	if int64(len(body)) > limit {
		tooLarge := apperrors.NewBatchError("batch exceeds " + strconv.FormatInt(limit, 10) + " bytes")
		tooLarge.TooLarge = true
		respond.Err(w, r, tooLarge)
		return
	}

	var req ingest.RawRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respond.Err(w, r, apperrors.NewBatchError("body must be a JSON object with a logs array"))
		return
	}
	logs, err := ingest.DecodeEntries(req.Logs)
	if err != nil {
		respond.Err(w, r, err)
		return
	}

	result, err := router.deps.Gate.Ingest(ctx, scope, ingest.Batch{
		Entries:     logs,
		EncodedSize: int64(len(body)),
	})
	if err != nil {
		var rl *apperrors.RateLimitError
		if errors.As(err, &rl) {
			logging.CtxWarn(ctx).Str("org_id", scope.OrgID).Int("entries", len(logs)).Msg("Ingest rate limited")
		}
		respond.Err(w, r, err)
		return
	}
	respond.OK(w, http.StatusAccepted, result)
}
