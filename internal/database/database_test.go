// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewAppliesSchemaAndMigrations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	for _, table := range []string{
		"log_entries", "services", "rules", "incidents", "notification_channels",
		"notification_events", "notification_deliveries", "cron_runs", "audit_events",
	} {
		var n int
		if err := db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Errorf("table %s not queryable: %v", table, err)
		}
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != len(migrations) {
		t.Errorf("SchemaVersion() = %d, want %d", version, len(migrations))
	}

	// Re-running is a no-op.
	if err := db.runVersionedMigrations(); err != nil {
		t.Errorf("second migration run failed: %v", err)
	}
}

func TestOpenKeyUniqueAllowsManyResolved(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := `INSERT INTO incidents (org_id, service_id, rule_id, status, opened_at, last_seen_at, open_key)
		VALUES ('org', 'svc', 1, ?, ?, ?, ?)`

	if _, err := db.Conn().ExecContext(ctx, insert, "resolved", now, now, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Conn().ExecContext(ctx, insert, "resolved", now, now, nil); err != nil {
		t.Fatalf("two resolved incidents should coexist: %v", err)
	}
	if _, err := db.Conn().ExecContext(ctx, insert, "open", now, now, "1:svc"); err != nil {
		t.Fatal(err)
	}
	_, err := db.Conn().ExecContext(ctx, insert, "open", now, now, "1:svc")
	if err == nil {
		t.Fatal("expected unique violation for second open incident")
	}
	if !IsUniqueViolation(err) || !IsConflict(err) {
		t.Errorf("IsUniqueViolation(%v) = false", err)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cron_runs (name, status, started_at) VALUES ('x', 'running', ?)`, time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}

	var n int
	if err := db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM cron_runs`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return errors.New("TransactionContext Error: Transaction conflict: cannot update")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err=%v calls=%d, want nil/3", err, calls)
	}

	calls = 0
	plain := errors.New("disk full")
	if err := RetryOnConflict(context.Background(), 3, func() error { calls++; return plain }); !errors.Is(err, plain) || calls != 1 {
		t.Errorf("non-conflict error should not retry: err=%v calls=%d", err, calls)
	}
}

func TestErrorClassifiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg      string
		conflict bool
		unique   bool
	}{
		{"Transaction conflict: cannot update a table that has been altered", true, false},
		{"Constraint Error: Duplicate key \"open_key: 1:svc\" violates unique constraint", false, true},
		{"Constraint Error: Duplicate key \"id: 1\" violates primary key constraint", false, true},
		{"Binder Error: column not found", false, false},
	}
	for _, tt := range tests {
		err := errors.New(tt.msg)
		if got := IsTransactionConflict(err); got != tt.conflict {
			t.Errorf("IsTransactionConflict(%q) = %v", tt.msg, got)
		}
		if got := IsUniqueViolation(err); got != tt.unique {
			t.Errorf("IsUniqueViolation(%q) = %v", tt.msg, got)
		}
	}
	if IsConflict(nil) {
		t.Error("nil is not a conflict")
	}
}
