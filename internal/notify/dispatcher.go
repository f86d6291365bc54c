// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/sentinel/internal/config"
	"github.com/tomtom215/sentinel/internal/cron"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
	"github.com/tomtom215/sentinel/internal/models"
)

// JobName is the ledger name of a dispatch run.
const JobName = "notifications.process"

// DefaultBatchSize caps the events handled by one run.
const DefaultBatchSize = 100

// Dispatcher drains pending notification events.
type Dispatcher struct {
	store     *Store
	registry  *ChannelRegistry
	guard     *Guard
	batchSize int
	timeout   time.Duration
	now       func() time.Time

	// runs serializes dispatch runs within the process so the scheduler
	// and the event trigger never send the same batch twice.
	runs sync.Mutex
}

// NewDispatcher returns a dispatcher. timeout bounds each channel send.
func NewDispatcher(store *Store, registry *ChannelRegistry, guard *Guard, batchSize int, timeout time.Duration) *Dispatcher {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{
		store:     store,
		registry:  registry,
		guard:     guard,
		batchSize: batchSize,
		timeout:   timeout,
		now:       time.Now,
	}
}

// NewFromConfig wires a dispatcher, its channel registry and its guard
// from the notify config section.
func NewFromConfig(store *Store, cfg *config.NotifyConfig) *Dispatcher {
	return NewDispatcher(store, store.registry, NewGuard(GuardSettings{
		Rate:        cfg.ChannelRate,
		Burst:       cfg.ChannelBurst,
		Failures:    cfg.BreakerFailures,
		OpenTimeout: cfg.BreakerTimeout,
	}), cfg.BatchSize, cfg.Timeout)
}

// RegistryFromConfig builds the channel registry for cfg.
func RegistryFromConfig(cfg *config.NotifyConfig) *ChannelRegistry {
	return NewChannelRegistry(cfg.Timeout, SMTPDefaults{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

// Name implements cron.Job.
func (d *Dispatcher) Name() string { return JobName }

// RunResult counts what one run did.
type RunResult struct {
	EventsProcessed     int
	EventsDelivered     int
	DeliveriesSucceeded int
	DeliveriesFailed    int
}

// Summary returns the ledger view of r.
func (r RunResult) Summary() cron.Summary {
	return cron.Summary{
		"eventsProcessed":     r.EventsProcessed,
		"eventsDelivered":     r.EventsDelivered,
		"deliveriesSucceeded": r.DeliveriesSucceeded,
		"deliveriesFailed":    r.DeliveriesFailed,
	}
}

// Execute implements cron.Job.
func (d *Dispatcher) Execute(ctx context.Context) (cron.Summary, error) {
	res, err := d.Dispatch(ctx)
	if err != nil {
		return nil, err
	}
	return res.Summary(), nil
}

// Dispatch runs one pass over the pending queue. Channel failures are
// recorded and counted; only queue read and write failures abort the run.
func (d *Dispatcher) Dispatch(ctx context.Context) (RunResult, error) {
	d.runs.Lock()
	defer d.runs.Unlock()

	var res RunResult
	pending, err := d.store.PendingEvents(ctx, d.batchSize)
	if err != nil {
		return res, err
	}

	channelsByOrg := make(map[string][]models.NotificationChannel)
	for i := range pending {
		ev := &pending[i]

		channels, ok := channelsByOrg[ev.OrgID]
		if !ok {
			channels, err = d.store.EnabledChannels(ctx, ev.OrgID)
			if err != nil {
				return res, err
			}
			channelsByOrg[ev.OrgID] = channels
		}
		if len(channels) == 0 {
			logging.CtxWarn(ctx).Int64("event_id", ev.ID).Str("org_id", ev.OrgID).
				Msg("no enabled channel, event stays pending")
			continue
		}

		res.EventsProcessed++
		delivered, err := d.deliver(ctx, ev, channels, &res)
		if err != nil {
			return res, err
		}
		if delivered {
			res.EventsDelivered++
		}
	}

	logging.CtxInfo(ctx).
		Int("events_processed", res.EventsProcessed).
		Int("events_delivered", res.EventsDelivered).
		Int("deliveries_failed", res.DeliveriesFailed).
		Msg("notification dispatch finished")
	return res, nil
}

// deliver tries every channel once and closes the pass on the event.
func (d *Dispatcher) deliver(ctx context.Context, ev *models.NotificationEvent, channels []models.NotificationChannel, res *RunResult) (bool, error) {
	subject, text := Subject(ev), Text(ev)
	delivered := false

	for i := range channels {
		ch := &channels[i]
		start := d.now()
		result := d.send(ctx, ch, &SendParams{Channel: ch, Event: ev, Subject: subject, Text: text})

		outcome := "success"
		if result.Success {
			delivered = true
			res.DeliveriesSucceeded++
		} else {
			outcome = "failure"
			res.DeliveriesFailed++
			logging.CtxWarn(ctx).
				Int64("event_id", ev.ID).
				Int64("channel_id", ch.ID).
				Str("channel_type", string(ch.Type)).
				Str("error_code", result.ErrorCode).
				Str("error", result.ErrorMessage).
				Msg("notification delivery failed")
		}
		metrics.RecordDelivery(string(ch.Type), outcome, d.now().Sub(start))

		attempt := &models.DeliveryAttempt{
			EventID:      ev.ID,
			ChannelID:    ch.ID,
			ChannelType:  ch.Type,
			Success:      result.Success,
			ErrorCode:    result.ErrorCode,
			Reason:       result.ErrorMessage,
			ResponseCode: result.ResponseCode,
			AttemptedAt:  start,
		}
		if err := d.store.RecordAttempt(ctx, attempt); err != nil {
			return delivered, err
		}
	}

	if err := d.store.FinishEvent(ctx, ev.ID, delivered, d.now()); err != nil {
		return delivered, err
	}
	return delivered, nil
}

// send runs one channel under its guard and the per-send timeout. A
// panicking channel is reported as a failed attempt.
func (d *Dispatcher) send(ctx context.Context, ch *models.NotificationChannel, params *SendParams) *DeliveryResult {
	impl, ok := d.registry.Get(ch.Type)
	if !ok {
		return failure(ErrorCodeUnknownChannel, "unknown channel type %q", ch.Type)
	}

	sendCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	return d.guard.Do(sendCtx, ch.ID, func() (result *DeliveryResult) {
		defer func() {
			if r := recover(); r != nil {
				result = failure(ErrorCodeUnknown, "channel panicked: %v", r)
			}
		}()
		result, err := impl.Send(sendCtx, params)
		if err != nil {
			return failure(ErrorCodeUnknown, "%v", err)
		}
		if result == nil {
			return failure(ErrorCodeUnknown, "channel %s returned no result", ch.Type)
		}
		return result
	})
}
