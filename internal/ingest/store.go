// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/sentinel/internal/database"
	"github.com/tomtom215/sentinel/internal/models"
)

// DuckDBStore writes log entries to the log_entries table.
type DuckDBStore struct {
	db *database.DB
}

// NewDuckDBStore returns a store on db.
func NewDuckDBStore(db *database.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

const insertEntrySQL = `INSERT INTO log_entries
	(id, org_id, service_id, environment_id, timestamp, level, message, metadata, trace_id, request_id, ingested_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertBatch implements Store in one transaction.
func (s *DuckDBStore) InsertBatch(ctx context.Context, entries []models.LogEntry) (err error) {
	defer database.Observe("INSERT", "log_entries", time.Now(), &err)

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertEntrySQL)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i := range entries {
			e := &entries[i]
			if _, err := stmt.ExecContext(ctx,
				e.ID, e.OrgID, e.ServiceID, e.EnvironmentID, e.Timestamp, string(e.Level), e.Message,
				nullableJSON(e.Metadata), nullableString(e.TraceID), nullableString(e.RequestID), e.IngestedAt,
			); err != nil {
				return fmt.Errorf("insert entry %d: %w", i, err)
			}
		}
		return nil
	})
}

// CountEntries returns the stored entries for one service.
func (s *DuckDBStore) CountEntries(ctx context.Context, orgID, serviceID string) (int64, error) {
	var n int64
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM log_entries WHERE org_id = ? AND service_id = ?`, orgID, serviceID).Scan(&n)
	return n, err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
