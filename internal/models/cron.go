// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// RunStatus is the state of a CronRun.
type RunStatus string

// CronRun states. Success and failed are final.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// CronRun is the ledger row written for one job execution.
type CronRun struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Status     RunStatus       `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}
