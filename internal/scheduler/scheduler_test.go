// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/sentinel/internal/cron"
	"github.com/tomtom215/sentinel/internal/models"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"daily at three", "0 3 * * *", false},
		{"quarter hours", "*/15 * * * *", false},
		{"weekday range", "0 9 * * 1-5", false},
		{"list and step", "0,30 8-18/2 * * *", false},
		{"sunday as seven", "0 0 * * 7", false},
		{"too few fields", "0 3 * *", true},
		{"too many fields", "0 3 * * * *", true},
		{"minute out of range", "60 * * * *", true},
		{"hour out of range", "0 24 * * *", true},
		{"zero day of month", "0 0 0 * *", true},
		{"zero step", "*/0 * * * *", true},
		{"reversed range", "0 9 * * 5-1", true},
		{"empty list element", "0, * * * *", true},
		{"not a number", "a * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		expr  string
		after string
		want  string
	}{
		{"next quarter hour", "*/15 * * * *", "2026-10-16T10:07:30Z", "2026-10-16T10:15:00Z"},
		{"strictly after", "0 3 * * *", "2026-10-16T03:00:00Z", "2026-10-17T03:00:00Z"},
		{"next monday", "0 9 * * 1", "2026-10-13T08:00:00Z", "2026-10-19T09:00:00Z"},
		{"first of next year", "0 0 1 * *", "2026-12-15T12:00:00Z", "2027-01-01T00:00:00Z"},
		{"day fields are ORed", "0 0 13 * 5", "2026-10-01T00:00:00Z", "2026-10-02T00:00:00Z"},
		{"sunday as seven", "0 0 * * 7", "2026-10-16T00:00:00Z", "2026-10-18T00:00:00Z"},
		{"offset step", "5/20 * * * *", "2026-10-16T10:06:00Z", "2026-10-16T10:25:00Z"},
		{"leap day", "0 0 29 2 *", "2026-03-01T00:00:00Z", "2028-02-29T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustParse(tt.expr).Next(at(tt.after))
			if !got.Equal(at(tt.want)) {
				t.Errorf("Next(%s) = %s, want %s", tt.after, got.Format(time.RFC3339), tt.want)
			}
		})
	}

	if got := MustParse("0 0 30 2 *").Next(at("2026-01-01T00:00:00Z")); !got.IsZero() {
		t.Errorf("February 30 should never fire, got %s", got)
	}
}

type fakeLedger struct {
	mu       sync.Mutex
	started  []string
	statuses []models.RunStatus
}

func (l *fakeLedger) Start(_ context.Context, name string, _ time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, name)
	return int64(len(l.started)), nil
}

func (l *fakeLedger) Finish(_ context.Context, _ int64, _ string, _ time.Time, status models.RunStatus, _ interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
	return nil
}

func (l *fakeLedger) snapshot() ([]string, []models.RunStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.started...), append([]models.RunStatus(nil), l.statuses...)
}

func counter(name string, n *atomic.Int32, err error) cron.Job {
	return cron.JobFunc{JobName: name, Fn: func(context.Context) (cron.Summary, error) {
		n.Add(1)
		return cron.Summary{}, err
	}}
}

func TestTickRunsDueJobs(t *testing.T) {
	t.Parallel()

	var evaluations, cleanups atomic.Int32
	reg := cron.NewRegistry()
	reg.Register("evaluate", counter("rules.evaluate", &evaluations, nil))
	reg.Register("cleanup", counter("logs.cleanup", &cleanups, errors.New("disk full")))

	schedules, err := FromSpecs(map[string]string{
		"evaluate": "* * * * *",
		"cleanup":  "0 3 * * *",
		"unused":   "",
	})
	if err != nil {
		t.Fatalf("FromSpecs: %v", err)
	}
	l := &fakeLedger{}
	s, err := New(reg, cron.NewRunner(l, time.Minute), schedules)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := s.Tick(context.Background(), at("2026-10-16T10:30:00Z")); len(got) != 1 || got[0] != "evaluate" {
		t.Errorf("10:30 started %v, want [evaluate]", got)
	}
	s.Wait()
	if got := s.Tick(context.Background(), at("2026-10-17T03:00:00Z")); len(got) != 2 {
		t.Errorf("03:00 started %v, want both jobs", got)
	}
	s.Wait()

	if evaluations.Load() != 2 || cleanups.Load() != 1 {
		t.Errorf("evaluations=%d cleanups=%d, want 2 and 1", evaluations.Load(), cleanups.Load())
	}
	started, statuses := l.snapshot()
	if len(started) != 3 || len(statuses) != 3 {
		t.Fatalf("expected 3 ledger runs, got started=%v statuses=%v", started, statuses)
	}
	failed := 0
	for _, st := range statuses {
		if st == models.RunFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected exactly one failed run, got %v", statuses)
	}
}

func TestTickSkipsOverlappingRun(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	reg := cron.NewRegistry()
	reg.Register("notify", cron.JobFunc{JobName: "notifications.process", Fn: func(ctx context.Context) (cron.Summary, error) {
		calls.Add(1)
		<-release
		return cron.Summary{}, nil
	}})

	s, err := New(reg, cron.NewRunner(&fakeLedger{}, time.Minute), []Schedule{{Route: "notify", Expr: MustParse("* * * * *")}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := s.Tick(context.Background(), at("2026-10-16T10:30:00Z"))
	second := s.Tick(context.Background(), at("2026-10-16T10:31:00Z"))
	close(release)
	s.Wait()

	if len(first) != 1 || len(second) != 0 {
		t.Errorf("first=%v second=%v, want the second tick skipped", first, second)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	if got := s.Tick(context.Background(), at("2026-10-16T10:32:00Z")); len(got) != 1 {
		t.Errorf("job should run again once released, got %v", got)
	}
	s.Wait()
}

func TestNewRejectsUnknownRoute(t *testing.T) {
	t.Parallel()

	reg := cron.NewRegistry()
	if _, err := New(reg, cron.NewRunner(&fakeLedger{}, 0), []Schedule{{Route: "evaluate", Expr: MustParse("* * * * *")}}); err == nil {
		t.Error("expected error for an unregistered route")
	}
	if _, err := FromSpecs(map[string]string{"evaluate": "every minute"}); err == nil {
		t.Error("expected parse error")
	}
}

func TestServeFiresAndStops(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	reg := cron.NewRegistry()
	reg.Register("evaluate", counter("rules.evaluate", &calls, nil))

	s, err := New(reg, cron.NewRunner(&fakeLedger{}, time.Minute), []Schedule{{Route: "evaluate", Expr: MustParse("* * * * *")}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var clock atomic.Int32
	s.now = func() time.Time {
		if clock.Add(1) == 1 {
			return at("2026-10-16T10:30:59Z").Add(990 * time.Millisecond)
		}
		return at("2026-10-16T10:31:00Z").Add(500 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
