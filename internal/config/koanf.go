// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sentinel/config.yaml",
	"/etc/sentinel/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
			Environment:     "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/sentinel.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Ingest: IngestConfig{
			MaxEntries:          200,
			MaxBytes:            262144,
			RateLimit:           1200,
			RateWindow:          time.Minute,
			IPRequestsPerMinute: 600,
		},
		RateLimit: RateLimitConfig{
			Backend:    "memory",
			BadgerPath: "/data/ratelimit",
		},
		Retention: RetentionConfig{
			DefaultDays: 7,
		},
		Cron: CronConfig{
			JobTimeout:       5 * time.Minute,
			SchedulerEnabled: false, // external triggers are canonical
			CleanupSchedule:  "0 3 * * *",
			EvaluateSchedule: "* * * * *",
			NotifySchedule:   "* * * * *",
		},
		Notify: NotifyConfig{
			BatchSize:       100,
			Timeout:         10 * time.Second,
			ChannelRate:     5,
			ChannelBurst:    5,
			BreakerFailures: 5,
			BreakerTimeout:  60 * time.Second,
			SMTPPort:        587,
		},
		Events: EventsConfig{
			Backend: "gochannel",
			NATSURL: "nats://127.0.0.1:4222",
			Topic:   "sentinel.incidents",
		},
		Auth: AuthConfig{
			Issuer: "sentinel",
		},
		Audit: AuditConfig{
			BufferSize:      1000,
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
		},
	}
}

// LoadWithKoanf loads configuration from three layers, later ones winning:
//  1. built-in defaults
//  2. an optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. mapped environment variables
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
// YAML lists are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"cors_origins":          "server.cors_origins",
	"environment":           "server.environment",

	// Database
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Ingest
	"ingest_max_entries":     "ingest.max_entries",
	"ingest_max_bytes":       "ingest.max_bytes",
	"ingest_rate_limit":      "ingest.rate_limit",
	"ingest_rate_window":     "ingest.rate_window",
	"ingest_ip_rate_per_min": "ingest.ip_requests_per_minute",

	// Rate window store
	"rate_limit_backend":     "rate_limit.backend",
	"rate_limit_badger_path": "rate_limit.badger_path",

	// Retention
	"retention_default_days": "retention.default_days",
	"retention_archive_url":  "retention.archive_url",

	// Cron
	"cron_secret":            "cron.secret",
	"internal_cron_secret":   "cron.secret",
	"cron_job_timeout":       "cron.job_timeout",
	"cron_scheduler_enabled": "cron.scheduler_enabled",
	"cron_cleanup_schedule":  "cron.cleanup_schedule",
	"cron_evaluate_schedule": "cron.evaluate_schedule",
	"cron_notify_schedule":   "cron.notify_schedule",

	// Notify
	"notify_batch_size":       "notify.batch_size",
	"notify_timeout":          "notify.timeout",
	"notify_channel_rate":     "notify.channel_rate",
	"notify_channel_burst":    "notify.channel_burst",
	"notify_breaker_failures": "notify.breaker_failures",
	"notify_breaker_timeout":  "notify.breaker_timeout",
	"smtp_host":               "notify.smtp_host",
	"smtp_port":               "notify.smtp_port",
	"smtp_username":           "notify.smtp_username",
	"smtp_password":           "notify.smtp_password",
	"smtp_from":               "notify.smtp_from",

	// Events
	"events_backend": "events.backend",
	"nats_url":       "events.nats_url",
	"events_topic":   "events.topic",

	// Auth
	"jwt_secret":         "auth.jwt_secret",
	"jwt_issuer":         "auth.issuer",
	"casbin_policy_path": "auth.policy_path",

	// Audit
	"audit_buffer_size":      "audit.buffer_size",
	"audit_retention_days":   "audit.retention_days",
	"audit_cleanup_interval": "audit.cleanup_interval",

	// AWS
	"aws_region":            "aws.region",
	"aws_endpoint_url":      "aws.endpoint",
	"aws_access_key_id":     "aws.access_key_id",
	"aws_secret_access_key": "aws.secret_access_key",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
