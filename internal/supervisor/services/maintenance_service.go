// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package services

import (
	"context"
	"time"

	"github.com/tomtom215/sentinel/internal/logging"
)

// Maintainer does periodic housekeeping. Both rate window stores implement
// it.
type Maintainer interface {
	Maintain(now time.Time) error
}

// MaintenanceService calls Maintain on an interval. Errors are logged and
// the loop continues.
type MaintenanceService struct {
	name     string
	target   Maintainer
	interval time.Duration
	now      func() time.Time
}

// NewMaintenanceService returns a service named name that maintains target
// every interval (default 5 minutes).
func NewMaintenanceService(name string, target Maintainer, interval time.Duration) *MaintenanceService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MaintenanceService{name: name, target: target, interval: interval, now: time.Now}
}

// Serve implements suture.Service.
func (m *MaintenanceService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.target.Maintain(m.now()); err != nil {
				logging.Warn().Err(err).Str("service", m.name).Msg("Maintenance pass failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture's logs.
func (m *MaintenanceService) String() string { return m.name }
