// Package main implements the entry point for the docsync API server, which
// synchronises documents into a remote vector store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/phrazzld/docsync-api/internal/config"
	"github.com/phrazzld/docsync-api/internal/platform/logger"
	"github.com/phrazzld/docsync-api/internal/redact"
	"github.com/phrazzld/docsync-api/internal/service/auth"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("docsync-api: %s", redact.Error(err))
	}
}

// options holds the parsed command line.
type options struct {
	configPath string
	issueToken string
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("docsync-api", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "path to a config file (yaml, json or toml)")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print a bearer token for the given subject and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// run loads configuration and either issues a token or serves until ctx is
// cancelled.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	if opts.issueToken != "" {
		return issueToken(ctx, cfg.Auth, opts.issueToken, stdout)
	}

	appLogger.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"vectordb_base_url", cfg.VectorDB.BaseURL,
		"run_history", cfg.Database.URL != "",
		"scheduler_enabled", cfg.Scheduler.Enabled)

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	if err := app.startScheduler(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	return app.startHTTPServer(ctx, app.setupRouter())
}

func issueToken(ctx context.Context, cfg config.AuthConfig, subject string, stdout io.Writer) error {
	svc, err := auth.NewJWTService(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	token, err := svc.GenerateToken(ctx, subject)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
