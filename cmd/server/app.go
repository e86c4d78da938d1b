package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/phrazzld/docsync-api/internal/api"
	"github.com/phrazzld/docsync-api/internal/config"
	"github.com/phrazzld/docsync-api/internal/metrics"
	"github.com/phrazzld/docsync-api/internal/platform/lock"
	"github.com/phrazzld/docsync-api/internal/platform/postgres"
	"github.com/phrazzld/docsync-api/internal/platform/vectordb"
	"github.com/phrazzld/docsync-api/internal/platform/webhook"
	"github.com/phrazzld/docsync-api/internal/schedule"
	"github.com/phrazzld/docsync-api/internal/service/auth"
	"github.com/phrazzld/docsync-api/internal/supervisor"
)

// reportJobName names the scheduled failed run report.
const reportJobName = "failed_run_report"

// application holds the shared dependencies and releases them on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db       *sql.DB
	runStore *postgres.RunStore

	jwtService auth.JWTService
	client     *vectordb.Client
	operator   *vectordb.Operator
	supervisor *supervisor.Supervisor

	lock      *lock.ProcessLock
	notifier  *webhook.Notifier
	scheduler *schedule.Scheduler
}

// newApplication builds every dependency from cfg. Run history is enabled
// only when a database URL is configured.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes,
		"issuer", cfg.Auth.Issuer)

	if cfg.Database.URL != "" {
		app.db, err = postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history database: %w", err)
		}
		if err := postgres.Migrate(ctx, app.db, logger); err != nil {
			_ = app.db.Close()
			return nil, fmt.Errorf("failed to migrate run history database: %w", err)
		}
		app.runStore = postgres.NewRunStore(app.db)
		logger.Info("run history enabled")
	}

	app.client = vectordb.NewClient(cfg.VectorDB, logger, app.metrics)
	app.operator = vectordb.NewOperator(app.client, cfg.VectorDB, logger, app.metrics)
	app.supervisor = supervisor.New(logger, app.metrics)

	app.lock = lock.New(cfg.Server.LockFile, logger)
	app.notifier = webhook.New(cfg.Notify.WebhookURL, logger)
	app.scheduler = schedule.New(logger, cfg.Scheduler.BridgeTimeout)

	return app, nil
}

// runHistory returns the run store as an api.RunHistory, or nil when run
// history is disabled.
func (app *application) runHistory() api.RunHistory {
	if app.runStore == nil {
		return nil
	}
	return app.runStore
}

// startScheduler registers the scheduled jobs and starts them when this
// process wins the process lock.
func (app *application) startScheduler() error {
	if !app.config.Scheduler.Enabled {
		app.logger.Info("scheduler disabled")
		return nil
	}
	if app.runStore == nil {
		app.logger.Warn("scheduler enabled without run history, nothing to report")
		return nil
	}

	held, err := app.lock.TryAcquire()
	if err != nil {
		return fmt.Errorf("failed to acquire process lock: %w", err)
	}
	if !held {
		app.logger.Info("another process holds the scheduler lock, not scheduling jobs")
		return nil
	}

	reporter := newFailedRunReporter(app.runStore, app.notifier, app.logger)
	if _, err := app.scheduler.AddCooperative(reportJobName, app.config.Scheduler.ReportSpec, func(ctx context.Context) error {
		return app.lock.Execute(ctx, reporter.Run)
	}); err != nil {
		return err
	}

	app.scheduler.Start()
	return nil
}

// cleanup releases resources in reverse order of creation.
func (app *application) cleanup() {
	app.scheduler.Stop()
	if err := app.lock.Release(); err != nil {
		app.logger.Error("failed to release process lock", "error", err)
	}
	app.operator.Close()
	app.client.Close()
	if app.db != nil {
		if err := app.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			app.logger.Error("failed to close database", "error", err)
		}
	}
}
