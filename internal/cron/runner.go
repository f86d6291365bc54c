// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package cron

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
	"github.com/tomtom215/sentinel/internal/models"
)

// Ledger records CronRuns. *ledger.Store implements it.
type Ledger interface {
	Start(ctx context.Context, name string, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, id int64, name string, startedAt time.Time, status models.RunStatus, meta interface{}) error
}

// Runner executes jobs and records one CronRun per execution.
type Runner struct {
	ledger  Ledger
	timeout time.Duration
	now     func() time.Time
}

// NewRunner returns a runner. A zero timeout leaves the caller's deadline
// in place.
func NewRunner(l Ledger, timeout time.Duration) *Runner {
	return &Runner{ledger: l, timeout: timeout, now: time.Now}
}

// Run executes job. route is the trigger that asked for it ("scheduler" for
// in-process runs) and is recorded on failure.
//
// On success the CronRun is finalized with the summary as meta. On failure
// it is finalized as failed with {error, route, correlationId} and a
// *apperrors.JobError is returned. Ledger problems are logged and never
// change the outcome.
func (r *Runner) Run(ctx context.Context, job Job, route string) (Summary, error) {
	name := job.Name()
	ctx = logging.ContextWithJob(ctx, name)
	startedAt := r.now()

	runID, err := r.ledger.Start(ctx, name, startedAt)
	if err != nil {
		r.ledgerFailed(ctx, "start", err)
		runID = 0
	}

	execCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	summary, err := execute(execCtx, job)
	duration := r.now().Sub(startedAt)
	metrics.RecordJobRun(name, duration, err)

	// The run is recorded even if the trigger's context is already gone.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err != nil {
		meta := map[string]interface{}{
			"error":         err.Error(),
			"route":         route,
			"correlationId": logging.CorrelationIDFromContext(ctx),
		}
		if lerr := r.ledger.Finish(recordCtx, runID, name, startedAt, models.RunFailed, meta); lerr != nil {
			r.ledgerFailed(ctx, "finish", lerr)
		}
		logging.CtxErr(ctx, err).Dur("duration", duration).Str("route", route).Msg("Job failed")
		return nil, &apperrors.JobError{Job: name, Err: err}
	}

	if summary == nil {
		summary = Summary{}
	}
	if lerr := r.ledger.Finish(recordCtx, runID, name, startedAt, models.RunSuccess, summary); lerr != nil {
		r.ledgerFailed(ctx, "finish", lerr)
	}
	logging.CtxInfo(ctx).Dur("duration", duration).Interface("summary", summary).Msg("Job finished")
	return summary, nil
}

func (r *Runner) ledgerFailed(ctx context.Context, op string, err error) {
	metrics.LedgerWriteErrors.WithLabelValues(op).Inc()
	logging.CtxWarn(ctx).Err(err).Str("op", op).Msg("Failed to record cron run")
}

// execute turns a panic into an error so the run is still finalized.
func execute(ctx context.Context, job Job) (summary Summary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.CtxErr(ctx, fmt.Errorf("panic: %v", rec)).Str("stack", string(debug.Stack())).Msg("Job panicked")
			summary = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return job.Execute(ctx)
}
