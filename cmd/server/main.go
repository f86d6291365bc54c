// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/sentinel/internal/api"
	"github.com/tomtom215/sentinel/internal/archive"
	"github.com/tomtom215/sentinel/internal/audit"
	"github.com/tomtom215/sentinel/internal/authz"
	"github.com/tomtom215/sentinel/internal/config"
	"github.com/tomtom215/sentinel/internal/cron"
	"github.com/tomtom215/sentinel/internal/database"
	"github.com/tomtom215/sentinel/internal/events"
	"github.com/tomtom215/sentinel/internal/ingest"
	"github.com/tomtom215/sentinel/internal/ledger"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/notify"
	"github.com/tomtom215/sentinel/internal/ratelimit"
	"github.com/tomtom215/sentinel/internal/retention"
	"github.com/tomtom215/sentinel/internal/rules"
	"github.com/tomtom215/sentinel/internal/scheduler"
	"github.com/tomtom215/sentinel/internal/supervisor"
	"github.com/tomtom215/sentinel/internal/supervisor/services"
)

// Job routes under /api/cron/{job}.
const (
	routeCleanup  = "cleanup"
	routeEvaluate = "evaluate"
	routeNotify   = "notifications.process"
)

const (
	policyReloadInterval = time.Minute
	windowMaintenance    = 5 * time.Minute
)

// windowStore is a rate window that also needs periodic housekeeping.
type windowStore interface {
	ratelimit.Store
	services.Maintainer
}

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("port", cfg.Server.Port).
		Msg("Starting Sentinel")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()

	if err := cfg.ResolveSecrets(startupCtx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to resolve secrets")
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing database")
		}
	}()
	logging.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	window, err := openWindowStore(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open rate window store")
	}
	defer window.Close()

	gate := ingest.NewGate(ingest.NewDuckDBStore(db), window, ingest.Options{
		MaxEntries: cfg.Ingest.MaxEntries,
		MaxBytes:   cfg.Ingest.MaxBytes,
		RateLimit:  cfg.Ingest.RateLimit,
		RateWindow: cfg.Ingest.RateWindow,
	})

	archiver, err := openArchiver(startupCtx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to configure log archive")
	}
	sweeper := retention.NewSweeper(db, cfg.Retention.DefaultDays, archiver)

	auditLogger := audit.NewLogger(audit.NewDuckDBStore(db), audit.Config{
		BufferSize:      cfg.Audit.BufferSize,
		RetentionDays:   cfg.Audit.RetentionDays,
		CleanupInterval: cfg.Audit.CleanupInterval,
	})
	defer func() {
		if closeErr := auditLogger.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing audit logger")
		}
	}()

	bus, err := events.NewBus(cfg.Events)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event bus")
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing event bus")
		}
	}()
	logging.Info().Str("backend", cfg.Events.Backend).Str("topic", bus.Topic()).Msg("Event bus ready")

	ruleStore := rules.NewStore(db, auditLogger)
	engine := rules.NewEngine(db, ruleStore, bus)

	channels := notify.RegistryFromConfig(&cfg.Notify)
	dispatcher := notify.NewFromConfig(notify.NewStore(db, channels, auditLogger), &cfg.Notify)

	runs := ledger.NewStore(db)
	registry := cron.NewRegistry()
	registry.Register(routeCleanup, sweeper)
	registry.Register(routeEvaluate, engine)
	registry.Register(routeNotify, dispatcher)
	runner := cron.NewRunner(runs, cfg.Cron.JobTimeout)
	if cfg.Cron.Secret == "" {
		logging.Warn().Msg("CRON_SECRET is not set; /api/cron routes will reject every request")
	}
	gateway := cron.NewGateway(registry, runner, cfg.Cron.Secret)

	enforcer, err := authz.NewEnforcer(authz.EnforcerConfig{
		PolicyPath:     cfg.Auth.PolicyPath,
		ReloadInterval: policyReloadInterval,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authorization")
	}
	defer enforcer.Close()
	if cfg.Auth.JWTSecret == "" {
		logging.Warn().Msg("JWT_SECRET is not set; admin routes will reject every request")
	}
	authMiddleware := authz.NewMiddleware(authz.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer), enforcer)

	router := api.NewRouter(api.Dependencies{
		Gate:         gate,
		Cron:         gateway,
		Audit:        auditLogger,
		Runs:         runs,
		Incidents:    ruleStore,
		DB:           db,
		Authz:        authMiddleware,
		MaxBodyBytes: cfg.Ingest.MaxBytes,
		Middleware: api.ChiMiddlewareConfig{
			CORSAllowedOrigins:      cfg.Server.CORSOrigins,
			IngestRequestsPerMinute: cfg.Ingest.IPRequestsPerMinute,
		},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout + 5*time.Second,
	})

	tree.AddDataService(audit.NewCleanupService(auditLogger))
	tree.AddDataService(services.NewMaintenanceService("rate-window-maintenance", window, windowMaintenance))

	tree.AddMessagingService(events.NewTrigger(bus, runner, dispatcher))
	if cfg.Cron.SchedulerEnabled {
		sched, schedErr := newScheduler(cfg, registry, runner)
		if schedErr != nil {
			logging.Fatal().Err(schedErr).Msg("Failed to configure scheduler")
		}
		tree.AddMessagingService(sched)
		logging.Info().Msg("In-process scheduler enabled")
	}

	tree.AddAPIService(services.NewHTTPServerService(server, addr, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := tree.ServeBackground(ctx)
	logging.Info().Str("addr", addr).Strs("jobs", registry.Routes()).Msg("Sentinel started")

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
		treeErr = <-errCh
	case treeErr = <-errCh:
	}
	stop()

	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree stopped unexpectedly")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil {
		for _, s := range report {
			logging.Warn().Str("service", s.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}
	logging.Info().Msg("Sentinel stopped")
}

func openWindowStore(cfg *config.Config) (windowStore, error) {
	opts := ratelimit.Options{Limit: cfg.Ingest.RateLimit, Window: cfg.Ingest.RateWindow}
	switch cfg.RateLimit.Backend {
	case "badger":
		logging.Info().Str("path", cfg.RateLimit.BadgerPath).Msg("Using BadgerDB rate windows")
		return ratelimit.OpenBadgerStore(cfg.RateLimit.BadgerPath, opts)
	default:
		return ratelimit.NewMemoryStore(opts), nil
	}
}

// openArchiver returns nil when no archive URL is configured; expired entries
// are then deleted without a copy.
func openArchiver(ctx context.Context, cfg *config.Config) (archive.Archiver, error) {
	if cfg.Retention.ArchiveURL == "" {
		return nil, nil
	}
	awsCfg, err := cfg.AWS.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}
	archiver, err := archive.NewS3ArchiverFromConfig(awsCfg, cfg.AWS.Endpoint, cfg.Retention.ArchiveURL)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("url", cfg.Retention.ArchiveURL).Msg("Archiving expired entries before deletion")
	return archiver, nil
}

func newScheduler(cfg *config.Config, registry *cron.Registry, runner *cron.Runner) (*scheduler.Scheduler, error) {
	schedules, err := scheduler.FromSpecs(map[string]string{
		routeCleanup:  cfg.Cron.CleanupSchedule,
		routeEvaluate: cfg.Cron.EvaluateSchedule,
		routeNotify:   cfg.Cron.NotifySchedule,
	})
	if err != nil {
		return nil, err
	}
	return scheduler.New(registry, runner, schedules)
}
