// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package ratelimit implements the per-key rolling window that bounds how
// many log entries an organisation may submit.
//
// A window admits a batch of n only when the entries already counted in the
// last Window, plus n, stay within Limit. A rejected batch does not advance
// the count. Admitted batches return a Reservation that can be released when
// the caller fails to use it, so storage errors do not burn quota.
//
// Two backends share the semantics:
//   - MemoryStore: one process, per-key mutex
//   - BadgerStore: persistent, serialised through Badger transactions with
//     conflict retry
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("rate limit store is closed")

// Store is a keyed atomic counter over a rolling window.
type Store interface {
	// Allow admits n units for key at now, or reports how long to wait.
	Allow(ctx context.Context, key string, n int, now time.Time) (Decision, error)

	// Release removes an admitted reservation from the window.
	Release(ctx context.Context, r Reservation) error

	Close() error
}

// Decision is the outcome of Allow.
type Decision struct {
	Allowed bool

	// Count is the window total after the decision.
	Count int

	// RetryAfter is set on rejection: the time until enough earlier units
	// leave the window for n to fit.
	RetryAfter time.Duration

	Reservation Reservation
}

// Reservation identifies units admitted by one Allow call.
type Reservation struct {
	Key string
	ID  string
	N   int
}

// Options configure a window.
type Options struct {
	Limit  int
	Window time.Duration
}

// slot is one admitted batch.
type slot struct {
	ID string `json:"id"`
	At int64  `json:"at"` // unix nanos
	N  int    `json:"n"`
}

// decide prunes expired slots and applies the admission rule. It returns the
// surviving slots (with the new one appended when admitted).
func decide(slots []slot, opts Options, key string, n int, now time.Time) ([]slot, Decision) {
	cutoff := now.Add(-opts.Window).UnixNano()
	live := slots[:0]
	total := 0
	for _, s := range slots {
		if s.At > cutoff {
			live = append(live, s)
			total += s.N
		}
	}

	if total >= opts.Limit || total+n > opts.Limit {
		return live, Decision{
			Allowed:    false,
			Count:      total,
			RetryAfter: retryAfter(live, opts, total, n, now),
		}
	}

	id := uuid.NewString()
	live = append(live, slot{ID: id, At: now.UnixNano(), N: n})
	return live, Decision{
		Allowed:     true,
		Count:       total + n,
		Reservation: Reservation{Key: key, ID: id, N: n},
	}
}

// retryAfter walks slots oldest first until enough units have expired for n
// to fit. A batch larger than the limit can never fit; the full window is
// returned.
func retryAfter(live []slot, opts Options, total, n int, now time.Time) time.Duration {
	if n > opts.Limit {
		return opts.Window
	}
	need := total + n - opts.Limit
	freed := 0
	for _, s := range live {
		freed += s.N
		if freed >= need {
			wait := time.Unix(0, s.At).Add(opts.Window).Sub(now)
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			return wait
		}
	}
	return opts.Window
}

func removeSlot(slots []slot, id string) ([]slot, bool) {
	for i, s := range slots {
		if s.ID == id {
			return append(slots[:i], slots[i+1:]...), true
		}
	}
	return slots, false
}
