// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package apperrors defines the error taxonomy shared by the pipeline and the
// HTTP layer. Each error knows its API error code and HTTP status so handlers
// never need to string-match messages.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// API error codes.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodePayloadLarge = "PAYLOAD_TOO_LARGE"
	CodeRateLimited  = "RATE_LIMITED"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeMethod       = "METHOD_NOT_ALLOWED"
	CodeJobFailed    = "JOB_FAILED"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

// ErrUnauthorized is returned when the cron secret or bearer token is missing or wrong.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated caller lacks the required role.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound is returned for unknown jobs and records.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a whole ingest batch. Index is the position of the
// first offending entry, or -1 when the batch as a whole is at fault.
type ValidationError struct {
	Index  int
	Field  string
	Reason string

	// TooLarge marks a size violation on the encoded payload.
	TooLarge bool
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid batch: %s", e.Reason)
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid entry at index %d: %s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid entry at index %d: %s", e.Index, e.Reason)
}

// NewBatchError returns a ValidationError that is not tied to one entry.
func NewBatchError(reason string) *ValidationError {
	return &ValidationError{Index: -1, Reason: reason}
}

// RateLimitError rejects a whole batch because the caller's window is full.
type RateLimitError struct {
	Key        string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d entries per %s", e.Limit, e.Window)
}

// JobError wraps a failure raised by a job's Execute.
type JobError struct {
	Job string
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.Job, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// LedgerWriteError is a secondary failure while recording a CronRun. It is
// logged and never returned to HTTP callers.
type LedgerWriteError struct {
	Op  string
	Err error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var re *RateLimitError
	var je *JobError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		if ve.TooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case errors.As(err, &re):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &je):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code maps err onto an API error code.
func Code(err error) string {
	var ve *ValidationError
	var re *RateLimitError
	var je *JobError
	switch {
	case errors.As(err, &ve):
		if ve.TooLarge {
			return CodePayloadLarge
		}
		return CodeValidation
	case errors.As(err, &re):
		return CodeRateLimited
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.As(err, &je):
		return CodeJobFailed
	default:
		return CodeInternal
	}
}
