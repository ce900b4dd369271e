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

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"uid-whitelist/internal/app"
	"uid-whitelist/internal/config"
	"uid-whitelist/internal/db"
	"uid-whitelist/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = pflag.String("config", "", "path to a YAML config file")
		envFile     = pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
		addr        = pflag.String("addr", "", "listen address, overrides PORT/ADDR")
		migrateOnly = pflag.Bool("migrate-only", false, "apply database migrations and exit")
		noBots      = pflag.Bool("no-bots", false, "serve the API without connecting chat bots")
	)
	pflag.Parse()

	if *envFile != "" {
		_ = godotenv.Load(*envFile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		return migrate(ctx, cfg)
	}

	rt, err := app.Build(ctx, cfg, app.Options{
		RunMigrations: cfg.Database.RunMigrations,
		StartBots:     !*noBots,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger := rt.Logger
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("server_start", map[string]any{"addr": cfg.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return rt.Bots.AutoStart(groupCtx)
	})

	group.Go(func() error {
		return rt.Sweeper.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("server_shutdown", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := rt.Bots.Shutdown(shutdownCtx); err != nil {
			logger.Warn("bots_shutdown_incomplete", map[string]any{"error": err.Error()})
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server_failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

func migrate(ctx context.Context, cfg config.Config) error {
	logger := observability.NewLoggerTo(os.Stdout, cfg.LogLevel)

	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(ctx, database, cfg.Database.Driver); err != nil {
		return err
	}

	version, err := db.SchemaVersion(ctx, database, cfg.Database.Driver)
	if err != nil {
		return err
	}
	logger.Info("migrations_applied", map[string]any{"version": version})
	return nil
}
