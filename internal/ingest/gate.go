// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package ingest is the admission path for telemetry batches.
//
// Gate.Ingest checks, in order: per-entry schema, batch size, the
// organisation's rolling entry window, and finally persists every entry in a
// single transaction. A batch is accepted or rejected as a whole.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
	"github.com/tomtom215/sentinel/internal/models"
	"github.com/tomtom215/sentinel/internal/ratelimit"
	"github.com/tomtom215/sentinel/internal/validation"
)

// Store persists admitted entries. InsertBatch must be all-or-nothing.
type Store interface {
	InsertBatch(ctx context.Context, entries []models.LogEntry) error
}

// Options bound a single batch.
type Options struct {
	MaxEntries int
	MaxBytes   int64
	RateLimit  int
	RateWindow time.Duration
}

// DefaultOptions returns the production limits.
func DefaultOptions() Options {
	return Options{MaxEntries: 200, MaxBytes: 262144, RateLimit: 1200, RateWindow: time.Minute}
}

// Batch is one decoded request body with its encoded size in bytes.
type Batch struct {
	Entries     []models.LogEntryInput
	EncodedSize int64
}

// Result is returned for an accepted batch.
type Result struct {
	Accepted int `json:"accepted"`
}

// Gate admits telemetry batches.
type Gate struct {
	store  Store
	window ratelimit.Store
	opts   Options
	now    func() time.Time
}

// NewGate wires a gate. window must be configured with the same limit and
// window as opts.
func NewGate(store Store, window ratelimit.Store, opts Options) *Gate {
	return &Gate{store: store, window: window, opts: opts, now: time.Now}
}

// Ingest validates, rate-checks and persists batch under scope.
//
// Errors:
//   - *apperrors.ValidationError for schema or size problems
//   - *apperrors.RateLimitError when the org's window is full
//   - a wrapped storage error otherwise; the rate reservation is released
func (g *Gate) Ingest(ctx context.Context, scope models.Scope, batch Batch) (*Result, error) {
	if err := validateScope(scope); err != nil {
		metrics.IngestBatchesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	timestamps, err := validateEntries(batch.Entries)
	if err != nil {
		metrics.IngestBatchesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	if err := g.checkSize(batch); err != nil {
		reason := "validation"
		if err.TooLarge {
			reason = "too_large"
		}
		metrics.IngestBatchesRejected.WithLabelValues(reason).Inc()
		return nil, err
	}

	n := len(batch.Entries)
	now := g.now()
	decision, err := g.window.Allow(ctx, scope.OrgID, n, now)
	if err != nil {
		metrics.IngestBatchesRejected.WithLabelValues("storage").Inc()
		return nil, fmt.Errorf("rate window: %w", err)
	}
	if !decision.Allowed {
		metrics.IngestBatchesRejected.WithLabelValues("rate_limited").Inc()
		return nil, &apperrors.RateLimitError{
			Key:        scope.OrgID,
			Limit:      g.opts.RateLimit,
			Window:     g.opts.RateWindow,
			RetryAfter: decision.RetryAfter,
		}
	}

	entries := make([]models.LogEntry, n)
	ingestedAt := now.UTC()
	for i, in := range batch.Entries {
		entries[i] = models.LogEntry{
			ID:            uuid.NewString(),
			OrgID:         scope.OrgID,
			ServiceID:     scope.ServiceID,
			EnvironmentID: scope.EnvironmentID,
			Timestamp:     timestamps[i],
			Level:         models.Level(in.Level),
			Message:       in.Message,
			Metadata:      in.Meta,
			TraceID:       in.TraceID,
			RequestID:     in.RequestID,
			IngestedAt:    ingestedAt,
		}
	}

	if err := g.store.InsertBatch(ctx, entries); err != nil {
		metrics.IngestBatchesRejected.WithLabelValues("storage").Inc()
		// Use a fresh context: the request context may be the reason the
		// insert failed.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := g.window.Release(releaseCtx, decision.Reservation); relErr != nil {
			logging.CtxWarn(ctx).Err(relErr).Str("org_id", scope.OrgID).Msg("Failed to release rate reservation")
		}
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	metrics.IngestEntriesAccepted.WithLabelValues(scope.OrgID).Add(float64(n))
	metrics.IngestBatchSize.Observe(float64(n))
	return &Result{Accepted: n}, nil
}

func validateScope(scope models.Scope) error {
	switch {
	case scope.OrgID == "":
		return &apperrors.ValidationError{Index: -1, Field: "orgId", Reason: "is required"}
	case scope.ServiceID == "":
		return &apperrors.ValidationError{Index: -1, Field: "serviceId", Reason: "is required"}
	case scope.EnvironmentID == "":
		return &apperrors.ValidationError{Index: -1, Field: "environmentId", Reason: "is required"}
	}
	return nil
}

// validateEntries checks every entry and stops at the first invalid one. It
// returns the parsed timestamps on success.
func validateEntries(entries []models.LogEntryInput) ([]time.Time, error) {
	timestamps := make([]time.Time, len(entries))
	for i := range entries {
		if verr := validation.ValidateStruct(&entries[i]); verr != nil {
			first := verr.First()
			return nil, &apperrors.ValidationError{Index: i, Field: first.Field(), Reason: first.Error()}
		}
		if !isObjectOrNull(entries[i].Meta) {
			return nil, &apperrors.ValidationError{Index: i, Field: "meta", Reason: "meta must be an object"}
		}
		ts, err := validation.ParseTimestamp(entries[i].Timestamp)
		if err != nil {
			return nil, &apperrors.ValidationError{Index: i, Field: "timestamp", Reason: err.Error()}
		}
		timestamps[i] = ts.UTC()
	}
	return timestamps, nil
}

func isObjectOrNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	return trimmed[0] == '{'
}

func (g *Gate) checkSize(batch Batch) *apperrors.ValidationError {
	n := len(batch.Entries)
	if n < 1 || n > g.opts.MaxEntries {
		return apperrors.NewBatchError("batch must contain 1-" + strconv.Itoa(g.opts.MaxEntries) + " entries")
	}
	if batch.EncodedSize > g.opts.MaxBytes {
		err := apperrors.NewBatchError("batch exceeds " + strconv.FormatInt(g.opts.MaxBytes, 10) + " bytes")
		err.TooLarge = true
		return err
	}
	return nil
}
