// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
)

// GuardSettings configures the per-channel breaker and limiter.
type GuardSettings struct {
	// Rate is sustained sends per second per channel; Burst is the bucket.
	Rate  float64
	Burst int

	// Failures is the number of consecutive transient failures that open a
	// channel's breaker. OpenTimeout is how long it stays open.
	Failures    uint32
	OpenTimeout time.Duration
}

// DefaultGuardSettings mirrors the notify config defaults.
func DefaultGuardSettings() GuardSettings {
	return GuardSettings{Rate: 5, Burst: 5, Failures: 5, OpenTimeout: time.Minute}
}

var errTransientFailure = errors.New("transient delivery failure")

// Guard owns one circuit breaker and one rate limiter per channel id.
// Breakers are created lazily and live for the life of the process.
type Guard struct {
	settings GuardSettings

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker[*DeliveryResult]
	limiters map[int64]*rate.Limiter
}

// NewGuard returns an empty guard.
func NewGuard(settings GuardSettings) *Guard {
	if settings.Failures == 0 {
		settings.Failures = DefaultGuardSettings().Failures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultGuardSettings().OpenTimeout
	}
	if settings.Burst < 1 {
		settings.Burst = 1
	}
	return &Guard{
		settings: settings,
		breakers: make(map[int64]*gobreaker.CircuitBreaker[*DeliveryResult]),
		limiters: make(map[int64]*rate.Limiter),
	}
}

func breakerName(channelID int64) string {
	return fmt.Sprintf("notify-channel-%d", channelID)
}

func (g *Guard) get(channelID int64) (*gobreaker.CircuitBreaker[*DeliveryResult], *rate.Limiter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[channelID]
	if !ok {
		threshold := g.settings.Failures
		cb = gobreaker.NewCircuitBreaker[*DeliveryResult](gobreaker.Settings{
			Name:        breakerName(channelID),
			MaxRequests: 1,
			Timeout:     g.settings.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
				metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("notification channel breaker changed state")
			},
		})
		g.breakers[channelID] = cb
	}

	lim, ok := g.limiters[channelID]
	if !ok {
		limit := rate.Inf
		if g.settings.Rate > 0 {
			limit = rate.Limit(g.settings.Rate)
		}
		lim = rate.NewLimiter(limit, g.settings.Burst)
		g.limiters[channelID] = lim
	}
	return cb, lim
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// State reports the breaker state for channelID. Channels never used are
// closed.
func (g *Guard) State(channelID int64) gobreaker.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[channelID]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// Do paces and guards one send. Only transient failures count against the
// breaker; a bad config is the operator's problem, not the target's.
func (g *Guard) Do(ctx context.Context, channelID int64, send func() *DeliveryResult) *DeliveryResult {
	cb, lim := g.get(channelID)

	if err := lim.Wait(ctx); err != nil {
		return failure(ErrorCodeRateLimited, "channel %d pacing: %v", channelID, err)
	}

	res, err := cb.Execute(func() (*DeliveryResult, error) {
		r := send()
		if !r.Success && r.IsTransient {
			return r, errTransientFailure
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return failure(ErrorCodeCircuitOpen, "circuit open for channel %d", channelID)
	}
	return res
}
