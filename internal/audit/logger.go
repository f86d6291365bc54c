// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/sentinel/internal/logging"
)

// Config holds configuration for the audit logger.
type Config struct {
	// BufferSize is the size of the async write buffer. Events are dropped
	// when it is full.
	BufferSize int

	// RetentionDays is how long to keep audit events.
	RetentionDays int

	// CleanupInterval is how often the retention cleanup runs.
	CleanupInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 1000, RetentionDays: 90, CleanupInterval: 24 * time.Hour}
}

// Logger writes audit events through a buffered channel.
type Logger struct {
	config    Config
	store     Store
	eventChan chan *Event
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewLogger starts the async writer.
func NewLogger(store Store, config Config) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}

	l.wg.Add(1)
	go l.asyncWriter()
	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.Save(ctx, event); err != nil {
		logging.Warn().Err(err).Str("action", event.Action).Str("event_id", event.ID).Msg("Failed to save audit event")
	}
}

// Log implements Recorder. Missing id, timestamp and correlation id are
// filled in.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now().UTC()
	}
	if event.CorrelationID == "" && ctx != nil {
		event.CorrelationID = logging.CorrelationIDFromContext(ctx)
	}

	select {
	case <-l.stopChan:
		logging.Warn().Str("action", event.Action).Msg("Audit logger closed, dropping event")
		return
	default:
	}

	select {
	case l.eventChan <- event:
	default:
		logging.Warn().Str("event_id", event.ID).Str("action", event.Action).Msg("Audit event buffer full, dropping event")
	}
}

// Close drains the buffer and stops the writer.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	return nil
}

// Cleanup deletes events older than the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := l.now().AddDate(0, 0, -l.config.RetentionDays)
	return l.store.Delete(ctx, cutoff)
}

// Query lists events matching filter, newest first, with the total count.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, int64, error) {
	filter.Normalize()
	events, err := l.store.Query(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := l.store.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// CleanupService runs Cleanup on the configured interval. It implements
// suture.Service.
type CleanupService struct {
	logger *Logger
}

// NewCleanupService wraps logger.
func NewCleanupService(logger *Logger) *CleanupService {
	return &CleanupService{logger: logger}
}

// Serve implements suture.Service.
func (s *CleanupService) Serve(ctx context.Context) error {
	interval := s.logger.config.CleanupInterval
	if interval <= 0 {
		interval = DefaultConfig().CleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := s.logger.Cleanup(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("Audit cleanup error")
			} else if count > 0 {
				logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *CleanupService) String() string { return "audit-cleanup" }
