// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/logging"
)

const maxConflictRetries = 100

// BadgerStore keeps windows in BadgerDB. Each key holds the JSON slot list
// and expires one window after its last write.
type BadgerStore struct {
	db     *badger.DB
	owned  bool
	prefix []byte
	opts   Options

	mu     sync.RWMutex
	closed bool
}

// OpenBadgerStore opens (or creates) a Badger database at path.
func OpenBadgerStore(path string, opts Options) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	s := NewBadgerStore(db, opts)
	s.owned = true
	return s, nil
}

// NewBadgerStore wraps an existing Badger database. The caller keeps
// ownership of db.
func NewBadgerStore(db *badger.DB, opts Options) *BadgerStore {
	return &BadgerStore{db: db, prefix: []byte("rl:"), opts: opts}
}

func (s *BadgerStore) key(k string) []byte {
	return append(append([]byte{}, s.prefix...), k...)
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying when another
// transaction committed a conflicting write first.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = s.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	logging.Warn().Int("attempts", maxConflictRetries).Msg("Rate window update gave up after repeated conflicts")
	return err
}

func (s *BadgerStore) load(txn *badger.Txn, key []byte) ([]slot, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var slots []slot
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &slots)
	})
	return slots, err
}

func (s *BadgerStore) save(txn *badger.Txn, key []byte, slots []slot) error {
	if len(slots) == 0 {
		return txn.Delete(key)
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return err
	}
	return txn.SetEntry(badger.NewEntry(key, data).WithTTL(s.opts.Window))
}

// Allow implements Store.
func (s *BadgerStore) Allow(ctx context.Context, key string, n int, now time.Time) (Decision, error) {
	if err := s.checkOpen(); err != nil {
		return Decision{}, err
	}
	bkey := s.key(key)

	var d Decision
	err := s.update(ctx, func(txn *badger.Txn) error {
		slots, err := s.load(txn, bkey)
		if err != nil {
			return err
		}
		var next []slot
		next, d = decide(slots, s.opts, key, n, now)
		if !d.Allowed {
			// Rejections leave the stored window untouched.
			return nil
		}
		return s.save(txn, bkey, next)
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate window %s: %w", key, err)
	}
	return d, nil
}

// Release implements Store.
func (s *BadgerStore) Release(ctx context.Context, r Reservation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	bkey := s.key(r.Key)
	return s.update(ctx, func(txn *badger.Txn) error {
		slots, err := s.load(txn, bkey)
		if err != nil {
			return err
		}
		next, found := removeSlot(slots, r.ID)
		if !found {
			return nil
		}
		return s.save(txn, bkey, next)
	})
}

// Close implements Store. The Badger database is closed only when the store
// opened it.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// RunGC rewrites value log files until Badger reports nothing left to
// reclaim. Expired windows only free disk space through this.
func (s *BadgerStore) RunGC(discardRatio float64) (rewrites int, err error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	for {
		err := s.db.RunValueLogGC(discardRatio)
		switch {
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode):
			return rewrites, nil
		case err != nil:
			return rewrites, fmt.Errorf("badger value log gc: %w", err)
		}
		rewrites++
	}
}

// Maintain reclaims value log space. The discard ratio matches Badger's
// recommended default.
func (s *BadgerStore) Maintain(time.Time) error {
	rewrites, err := s.RunGC(0.5)
	if rewrites > 0 {
		logging.Debug().Int("rewrites", rewrites).Msg("Rate window value log compacted")
	}
	return err
}
