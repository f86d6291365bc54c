// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package ledger records one CronRun row per job execution.
//
// A run is opened with Start (status running) and closed with Finish, which
// moves it to success or failed exactly once. When Start could not write,
// Finish inserts the completed row instead so the run is still recorded.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/database"
	"github.com/tomtom215/sentinel/internal/models"
)

// ErrAlreadyFinalized is returned when Finish targets a run that is no
// longer running.
var ErrAlreadyFinalized = errors.New("cron run already finalized")

// Store persists CronRuns in DuckDB.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore returns a ledger backed by db.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Start inserts a running row and returns its id.
func (s *Store) Start(ctx context.Context, name string, startedAt time.Time) (id int64, err error) {
	defer database.Observe("INSERT", "cron_runs", time.Now(), &err)

	err = s.db.Conn().QueryRowContext(ctx,
		`INSERT INTO cron_runs (name, status, started_at) VALUES (?, ?, ?) RETURNING id`,
		name, string(models.RunRunning), startedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, &apperrors.LedgerWriteError{Op: "start", Err: err}
	}
	return id, nil
}

// Finish finalizes run id with status and meta. An id of 0 means Start
// failed; the completed row is inserted directly.
func (s *Store) Finish(ctx context.Context, id int64, name string, startedAt time.Time, status models.RunStatus, meta interface{}) (err error) {
	if status != models.RunSuccess && status != models.RunFailed {
		return fmt.Errorf("invalid final status %q", status)
	}
	payload, err := encodeMeta(meta)
	if err != nil {
		return &apperrors.LedgerWriteError{Op: "finish", Err: err}
	}
	finishedAt := s.now().UTC()

	if id == 0 {
		defer database.Observe("INSERT", "cron_runs", time.Now(), &err)
		_, err = s.db.Conn().ExecContext(ctx,
			`INSERT INTO cron_runs (name, status, started_at, finished_at, meta) VALUES (?, ?, ?, ?, ?)`,
			name, string(status), startedAt.UTC(), finishedAt, payload)
		if err != nil {
			return &apperrors.LedgerWriteError{Op: "insert", Err: err}
		}
		return nil
	}

	defer database.Observe("UPDATE", "cron_runs", time.Now(), &err)
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE cron_runs SET status = ?, finished_at = ?, meta = ?
		 WHERE id = ? AND status = ? AND finished_at IS NULL`,
		string(status), finishedAt, payload, id, string(models.RunRunning))
	if err != nil {
		return &apperrors.LedgerWriteError{Op: "finish", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &apperrors.LedgerWriteError{Op: "finish", Err: err}
	}
	if n == 0 {
		return &apperrors.LedgerWriteError{Op: "finish", Err: ErrAlreadyFinalized}
	}
	return nil
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id int64) (*models.CronRun, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, name, status, started_at, finished_at, CAST(meta AS TEXT) FROM cron_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return run, err
}

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	Name   string
	Status models.RunStatus
	Limit  int
	Offset int
}

// List returns runs newest first, plus the total matching the filter.
func (s *Store) List(ctx context.Context, f ListFilter) (runs []models.CronRun, total int64, err error) {
	defer database.Observe("SELECT", "cron_runs", time.Now(), &err)

	var where []string
	var args []interface{}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	if err = s.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM cron_runs"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cron runs: %w", err)
	}

	query := `SELECT id, name, status, started_at, finished_at, CAST(meta AS TEXT) FROM cron_runs` +
		clause + ` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.Conn().QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list cron runs: %w", err)
	}
	defer rows.Close()

	runs = make([]models.CronRun, 0, f.Limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*models.CronRun, error) {
	var (
		run      models.CronRun
		status   string
		finished sql.NullTime
		meta     sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.Name, &status, &run.StartedAt, &finished, &meta); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if meta.Valid {
		run.Meta = json.RawMessage(meta.String)
	}
	return &run, nil
}

func encodeMeta(meta interface{}) (interface{}, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return string(b), nil
}
