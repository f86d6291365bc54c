// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package scheduler runs registered cron jobs in-process.
//
// External triggers through the cron gateway are the canonical way to run
// jobs. The scheduler is an optional stand-in for deployments without one:
// it fires each job on its cron expression through the same cron.Runner, so
// every run still produces exactly one CronRun.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/sentinel/internal/cron"
	"github.com/tomtom215/sentinel/internal/logging"
)

// Route is recorded on failed CronRuns started by the scheduler.
const Route = "scheduler"

// Schedule binds a registry route to a cron expression.
type Schedule struct {
	Route string
	Expr  *Expression
}

// Scheduler fires jobs from a cron.Registry on their schedules. It
// implements suture.Service.
type Scheduler struct {
	registry  *cron.Registry
	runner    *cron.Runner
	schedules []Schedule
	loc       *time.Location
	now       func() time.Time

	// A job still running from its previous tick is skipped rather than
	// stacked.
	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// New returns a scheduler for schedules. Every route must be registered.
func New(registry *cron.Registry, runner *cron.Runner, schedules []Schedule) (*Scheduler, error) {
	for _, s := range schedules {
		if s.Expr == nil {
			return nil, fmt.Errorf("schedule for %q has no expression", s.Route)
		}
		if _, ok := registry.Lookup(s.Route); !ok {
			return nil, fmt.Errorf("schedule for unknown job route %q", s.Route)
		}
	}
	return &Scheduler{
		registry:  registry,
		runner:    runner,
		schedules: schedules,
		loc:       time.UTC,
		now:       time.Now,
		running:   make(map[string]bool),
	}, nil
}

// FromSpecs parses route→expression pairs. Empty expressions are skipped.
func FromSpecs(specs map[string]string) ([]Schedule, error) {
	routes := make([]string, 0, len(specs))
	for route := range specs {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	schedules := make([]Schedule, 0, len(specs))
	for _, route := range routes {
		if specs[route] == "" {
			continue
		}
		expr, err := Parse(specs[route])
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", route, err)
		}
		schedules = append(schedules, Schedule{Route: route, Expr: expr})
	}
	return schedules, nil
}

// Serve runs until ctx is cancelled, then waits for in-flight jobs.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().Int("schedules", len(s.schedules)).Msg("Scheduler started")
	defer s.wg.Wait()

	if len(s.schedules) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		now := s.now().In(s.loc)
		next := s.nextTick(now)
		if next.IsZero() {
			logging.Warn().Msg("No schedule will fire again; scheduler idle")
			<-ctx.Done()
			return ctx.Err()
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			logging.Info().Msg("Scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.Tick(ctx, next)
		}
	}
}

// String implements fmt.Stringer for suture's logs.
func (s *Scheduler) String() string { return "cron-scheduler" }

func (s *Scheduler) nextTick(now time.Time) time.Time {
	var next time.Time
	for _, sc := range s.schedules {
		t := sc.Expr.Next(now)
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// Tick starts every job whose expression matches at. Jobs run concurrently
// and Tick returns without waiting for them.
func (s *Scheduler) Tick(ctx context.Context, at time.Time) []string {
	at = at.In(s.loc)
	var started []string
	for _, sc := range s.schedules {
		if !sc.Expr.Matches(at) {
			continue
		}
		job, ok := s.registry.Lookup(sc.Route)
		if !ok {
			continue
		}
		if !s.claim(sc.Route) {
			logging.Warn().Str("route", sc.Route).Msg("Previous run still in progress, skipping tick")
			continue
		}

		started = append(started, sc.Route)
		s.wg.Add(1)
		go func(route string, job cron.Job) {
			defer s.wg.Done()
			defer s.release(route)
			runCtx := logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())
			// Failures are already recorded and logged by the runner.
			_, _ = s.runner.Run(runCtx, job, Route)
		}(sc.Route, job)
	}
	return started
}

// Wait blocks until jobs started by Tick have finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) claim(route string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[route] {
		return false
	}
	s.running[route] = true
	return true
}

func (s *Scheduler) release(route string) {
	s.mu.Lock()
	delete(s.running, route)
	s.mu.Unlock()
}
