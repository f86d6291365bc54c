// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package events

import (
	"context"
	"errors"
	"sync"

	"github.com/tomtom215/sentinel/internal/cron"
	"github.com/tomtom215/sentinel/internal/logging"
)

// TriggerRoute is recorded as the route of runs started by the bus.
const TriggerRoute = "event"

// Trigger runs a job through the Runner whenever an incident change arrives.
// Bursts are coalesced: at most one run is in flight and at most one more is
// queued behind it.
type Trigger struct {
	bus    *Bus
	runner *cron.Runner
	job    cron.Job
}

// NewTrigger returns a trigger that runs job for every change on bus.
func NewTrigger(bus *Bus, runner *cron.Runner, job cron.Job) *Trigger {
	return &Trigger{bus: bus, runner: runner, job: job}
}

// Serve implements suture.Service.
func (t *Trigger) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	msgs, err := t.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	kick := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-kick:
				// Failures are already recorded by the runner.
				_, _ = t.runner.Run(ctx, t.job, TriggerRoute)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("incident subscription closed")
			}
			if ev, err := Decode(msg); err != nil {
				logging.CtxWarn(ctx).Err(err).Msg("Dropping malformed incident event")
			} else {
				logging.Ctx(ctx).Debug().Str("kind", string(ev.Kind)).Int64("incident_id", ev.IncidentID).Msg("Incident event received")
			}
			msg.Ack()

			select {
			case kick <- struct{}{}:
			default:
			}
		}
	}
}

// String names the service in supervisor logs.
func (t *Trigger) String() string {
	return "event-trigger:" + t.job.Name()
}
