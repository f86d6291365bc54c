// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package retention implements the logs.cleanup job.
//
// Every log entry whose timestamp is older than its service's retention
// (services.retention_days, or the configured default when NULL or when the
// service has no row in services) is removed by a single DELETE statement.
//
// With an archiver configured, expiring rows are uploaded first, outside any
// write transaction. The delete is then bounded to rows ingested before the
// archive snapshot, so nothing is removed that was not archived.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/sentinel/internal/archive"
	"github.com/tomtom215/sentinel/internal/cron"
	"github.com/tomtom215/sentinel/internal/database"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
	"github.com/tomtom215/sentinel/internal/models"
)

// JobName is the ledger name of the sweep.
const JobName = "logs.cleanup"

// ingestSlack is subtracted from the archive snapshot time. Batches still
// committing when the snapshot is taken carry an earlier ingested_at and
// must not be deleted unarchived.
const ingestSlack = time.Minute

// expiredPredicate takes the sweep time and the default retention in days.
const expiredPredicate = `log_entries.timestamp < CAST(? AS TIMESTAMPTZ) - to_seconds(CAST(COALESCE(
		(SELECT s.retention_days FROM services s
		 WHERE s.org_id = log_entries.org_id AND s.id = log_entries.service_id),
		?) AS BIGINT) * 86400)`

// ingestedBound limits a statement to rows ingested at or before a time.
const ingestedBound = ` AND log_entries.ingested_at <= CAST(? AS TIMESTAMPTZ)`

// Sweeper deletes expired log entries.
type Sweeper struct {
	db          *database.DB
	defaultDays int
	archiver    archive.Archiver
	now         func() time.Time
	wallClock   func() time.Time
}

// NewSweeper returns a sweeper. archiver may be nil.
func NewSweeper(db *database.DB, defaultDays int, archiver archive.Archiver) *Sweeper {
	return &Sweeper{db: db, defaultDays: defaultDays, archiver: archiver, now: time.Now, wallClock: time.Now}
}

// Name implements cron.Job.
func (s *Sweeper) Name() string { return JobName }

// Execute implements cron.Job. The summary is {deleted} plus {archived} when
// an archiver is configured.
func (s *Sweeper) Execute(ctx context.Context) (cron.Summary, error) {
	now := s.now().UTC()
	archived := 0

	var bound *time.Time
	if s.archiver != nil {
		snapshot := s.wallClock().UTC().Add(-ingestSlack)
		n, err := s.archiveExpired(ctx, now, snapshot)
		if err != nil {
			return nil, err
		}
		archived = n
		bound = &snapshot
	}

	deleted, err := s.deleteExpired(ctx, now, bound)
	if err != nil {
		return nil, err
	}

	metrics.RetentionDeleted.Add(float64(deleted))
	logging.CtxInfo(ctx).Int64("deleted", deleted).Int("archived_objects", archived).Msg("Retention sweep finished")

	summary := cron.Summary{"deleted": deleted}
	if s.archiver != nil {
		summary["archived"] = archived
	}
	return summary, nil
}

func (s *Sweeper) deleteExpired(ctx context.Context, now time.Time, ingestedBefore *time.Time) (n int64, err error) {
	defer database.Observe("DELETE", "log_entries", time.Now(), &err)

	query := `DELETE FROM log_entries WHERE ` + expiredPredicate
	args := []interface{}{now, s.defaultDays}
	if ingestedBefore != nil {
		query += ingestedBound
		args = append(args, *ingestedBefore)
	}

	res, err := s.db.Conn().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	return res.RowsAffected()
}

func (s *Sweeper) archiveExpired(ctx context.Context, now, ingestedBefore time.Time) (objects int, err error) {
	defer database.Observe("SELECT", "log_entries", time.Now(), &err)

	rows, err := s.db.Conn().QueryContext(ctx, `SELECT log_entries.id, log_entries.org_id, log_entries.service_id,
			log_entries.environment_id, log_entries.timestamp, log_entries.level, log_entries.message,
			CAST(log_entries.metadata AS TEXT), log_entries.trace_id, log_entries.request_id, log_entries.ingested_at
		FROM log_entries
		WHERE `+expiredPredicate+ingestedBound+`
		ORDER BY log_entries.org_id, log_entries.service_id, log_entries.timestamp`,
		now, s.defaultDays, ingestedBefore)
	if err != nil {
		return 0, fmt.Errorf("select expired entries: %w", err)
	}
	defer rows.Close()

	var batch []models.LogEntry
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		key, err := s.archiver.Archive(ctx, batch[0].OrgID, batch[0].ServiceID, batch)
		if err != nil {
			return fmt.Errorf("archive %s/%s: %w", batch[0].OrgID, batch[0].ServiceID, err)
		}
		logging.CtxInfo(ctx).Str("key", key).Int("entries", len(batch)).Msg("Archived expired entries")
		objects++
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		var e models.LogEntry
		var level string
		var meta, traceID, requestID sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ServiceID, &e.EnvironmentID, &e.Timestamp, &level,
			&e.Message, &meta, &traceID, &requestID, &e.IngestedAt); err != nil {
			return objects, fmt.Errorf("scan expired entry: %w", err)
		}
		e.Level = models.Level(level)
		if meta.Valid {
			e.Metadata = []byte(meta.String)
		}
		e.TraceID = traceID.String
		e.RequestID = requestID.String

		if len(batch) > 0 && (batch[0].OrgID != e.OrgID || batch[0].ServiceID != e.ServiceID) {
			if err := flush(); err != nil {
				return objects, err
			}
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return objects, err
	}
	return objects, flush()
}
