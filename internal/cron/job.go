// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package cron runs named maintenance jobs and exposes them over HTTP.
//
// A Job is registered under a route name in a Registry. The Runner executes a
// job and records exactly one CronRun for it. The Gateway authenticates
// trigger requests with the shared cron secret and hands them to the Runner.
package cron

import (
	"context"
	"sort"
	"sync"
)

// Summary is the result a job reports on success. It is stored as the
// CronRun meta and returned to the caller.
type Summary map[string]interface{}

// Job is a unit of scheduled work.
type Job interface {
	// Name is the job's stable identifier, e.g. "rules.evaluate".
	Name() string
	Execute(ctx context.Context) (Summary, error)
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) (Summary, error)
}

// Name implements Job.
func (f JobFunc) Name() string { return f.JobName }

// Execute implements Job.
func (f JobFunc) Execute(ctx context.Context) (Summary, error) { return f.Fn(ctx) }

// Registry maps route names to jobs.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register adds job under route, replacing any earlier registration.
func (r *Registry) Register(route string, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[route] = job
}

// Lookup returns the job for route.
func (r *Registry) Lookup(route string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[route]
	return job, ok
}

// ByName returns the job whose Name is name.
func (r *Registry) ByName(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.jobs {
		if job.Name() == name {
			return job, true
		}
	}
	return nil, false
}

// Routes returns the registered route names, sorted.
func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make([]string, 0, len(r.jobs))
	for route := range r.jobs {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}
