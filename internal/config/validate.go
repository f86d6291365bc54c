// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "console": true,
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateIngest,
		c.validateRateLimit,
		c.validateRetention,
		c.validateNotify,
		c.validateEvents,
		c.validateAuth,
		c.validateAudit,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.MaxEntries < 1 {
		return fmt.Errorf("INGEST_MAX_ENTRIES must be at least 1")
	}
	if c.Ingest.MaxBytes < 1 {
		return fmt.Errorf("INGEST_MAX_BYTES must be at least 1")
	}
	if c.Ingest.RateLimit < 1 {
		return fmt.Errorf("INGEST_RATE_LIMIT must be at least 1")
	}
	if c.Ingest.RateWindow <= 0 {
		return fmt.Errorf("INGEST_RATE_WINDOW must be positive")
	}
	if c.Ingest.IPRequestsPerMinute < 0 {
		return fmt.Errorf("INGEST_IP_RATE_PER_MIN must not be negative")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	switch c.RateLimit.Backend {
	case "memory":
		return nil
	case "badger":
		if c.RateLimit.BadgerPath == "" {
			return fmt.Errorf("RATE_LIMIT_BADGER_PATH is required when RATE_LIMIT_BACKEND=badger")
		}
		return nil
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be one of: memory, badger")
	}
}

func (c *Config) validateRetention() error {
	if c.Retention.DefaultDays < 1 {
		return fmt.Errorf("RETENTION_DEFAULT_DAYS must be at least 1")
	}
	if c.Retention.ArchiveURL != "" {
		if !strings.HasPrefix(c.Retention.ArchiveURL, "s3://") {
			return fmt.Errorf("RETENTION_ARCHIVE_URL must be an s3:// URL")
		}
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS_REGION is required when RETENTION_ARCHIVE_URL is set")
		}
	}
	return nil
}

func (c *Config) validateNotify() error {
	if c.Notify.BatchSize < 1 {
		return fmt.Errorf("NOTIFY_BATCH_SIZE must be at least 1")
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive")
	}
	if c.Notify.ChannelRate <= 0 || c.Notify.ChannelBurst < 1 {
		return fmt.Errorf("NOTIFY_CHANNEL_RATE and NOTIFY_CHANNEL_BURST must be positive")
	}
	if c.Notify.BreakerFailures == 0 {
		return fmt.Errorf("NOTIFY_BREAKER_FAILURES must be at least 1")
	}
	return nil
}

func (c *Config) validateEvents() error {
	switch c.Events.Backend {
	case "gochannel":
		return nil
	case "nats":
		if c.Events.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when EVENTS_BACKEND=nats")
		}
		return nil
	default:
		return fmt.Errorf("EVENTS_BACKEND must be one of: gochannel, nats")
	}
}

func (c *Config) validateAuth() error {
	if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be at least 1")
	}
	return nil
}
