// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package config

import "time"

// Config is the full runtime configuration. It is loaded once at startup by
// LoadWithKoanf and treated as read-only afterwards.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Logging   LoggingConfig   `koanf:"logging"`
	Ingest    IngestConfig    `koanf:"ingest"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Retention RetentionConfig `koanf:"retention"`
	Cron      CronConfig      `koanf:"cron"`
	Notify    NotifyConfig    `koanf:"notify"`
	Events    EventsConfig    `koanf:"events"`
	Auth      AuthConfig      `koanf:"auth"`
	Audit     AuditConfig     `koanf:"audit"`
	AWS       AWSConfig       `koanf:"aws"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	Environment     string        `koanf:"environment"` // development or production
}

// DatabaseConfig holds DuckDB settings. An empty Path opens an in-memory
// database, which is only useful for tests.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IngestConfig bounds what a single producer may submit.
type IngestConfig struct {
	MaxEntries int           `koanf:"max_entries"`
	MaxBytes   int64         `koanf:"max_bytes"`
	RateLimit  int           `koanf:"rate_limit"`  // accepted entries per org per window
	RateWindow time.Duration `koanf:"rate_window"` // rolling

	// IPRequestsPerMinute is a coarse per-IP request shield in front of the
	// per-org entry window. 0 disables it.
	IPRequestsPerMinute int `koanf:"ip_requests_per_minute"`
}

// RateLimitConfig selects the RateWindow backend.
type RateLimitConfig struct {
	Backend    string `koanf:"backend"` // memory or badger
	BadgerPath string `koanf:"badger_path"`
}

// RetentionConfig controls the logs.cleanup job.
type RetentionConfig struct {
	DefaultDays int `koanf:"default_days"`

	// ArchiveURL is an s3://bucket/prefix location. Expired entries are
	// written there before deletion when set.
	ArchiveURL string `koanf:"archive_url"`
}

// CronConfig controls the trigger gateway and the optional in-process
// scheduler. Secret may be an AWS Secrets Manager ARN.
type CronConfig struct {
	Secret           string        `koanf:"secret"`
	JobTimeout       time.Duration `koanf:"job_timeout"`
	SchedulerEnabled bool          `koanf:"scheduler_enabled"`
	CleanupSchedule  string        `koanf:"cleanup_schedule"`
	EvaluateSchedule string        `koanf:"evaluate_schedule"`
	NotifySchedule   string        `koanf:"notify_schedule"`
}

// NotifyConfig controls the notifications.process job and its channels.
type NotifyConfig struct {
	BatchSize       int           `koanf:"batch_size"`
	Timeout         time.Duration `koanf:"timeout"`
	ChannelRate     float64       `koanf:"channel_rate"` // requests per second per channel
	ChannelBurst    int           `koanf:"channel_burst"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`

	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPFrom     string `koanf:"smtp_from"`
}

// EventsConfig selects the incident-change bus.
type EventsConfig struct {
	Backend string `koanf:"backend"` // gochannel or nats
	NATSURL string `koanf:"nats_url"`
	Topic   string `koanf:"topic"`
}

// AuthConfig configures bearer-token verification for admin routes.
type AuthConfig struct {
	JWTSecret  string `koanf:"jwt_secret"`
	Issuer     string `koanf:"issuer"`
	PolicyPath string `koanf:"policy_path"` // optional casbin CSV, embedded default otherwise
}

// AuditConfig controls the async audit logger.
type AuditConfig struct {
	BufferSize      int           `koanf:"buffer_size"`
	RetentionDays   int           `koanf:"retention_days"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// AWSConfig is shared by the S3 archiver and Secrets Manager lookups. Empty
// keys fall back to the default credential chain.
type AWSConfig struct {
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
