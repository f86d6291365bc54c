// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/sentinel/internal/logging"
)

// MemoryStore keeps windows in process memory.
type MemoryStore struct {
	opts Options

	mu     sync.Mutex
	keys   map[string]*memoryWindow
	closed bool
}

type memoryWindow struct {
	mu    sync.Mutex
	slots []slot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts, keys: make(map[string]*memoryWindow)}
}

func (s *MemoryStore) window(key string) (*memoryWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	w, ok := s.keys[key]
	if !ok {
		w = &memoryWindow{}
		s.keys[key] = w
	}
	return w, nil
}

// Allow implements Store.
func (s *MemoryStore) Allow(_ context.Context, key string, n int, now time.Time) (Decision, error) {
	w, err := s.window(key)
	if err != nil {
		return Decision{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var d Decision
	w.slots, d = decide(w.slots, s.opts, key, n, now)
	return d, nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, r Reservation) error {
	w, err := s.window(r.Key)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.slots, _ = removeSlot(w.slots, r.ID)
	return nil
}

// Sweep drops keys whose windows are empty at now.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.opts.Window).UnixNano()
	removed := 0
	for key, w := range s.keys {
		w.mu.Lock()
		empty := true
		for _, sl := range w.slots {
			if sl.At > cutoff {
				empty = false
				break
			}
		}
		w.mu.Unlock()
		if empty {
			delete(s.keys, key)
			removed++
		}
	}
	return removed
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.keys = nil
	return nil
}

// Maintain drops windows that have fully expired at now.
func (s *MemoryStore) Maintain(now time.Time) error {
	if removed := s.Sweep(now); removed > 0 {
		logging.Debug().Int("keys", removed).Msg("Expired rate windows swept")
	}
	return nil
}
