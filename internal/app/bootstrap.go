package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"uid-whitelist/internal/auth"
	"uid-whitelist/internal/bot"
	"uid-whitelist/internal/config"
	"uid-whitelist/internal/db"
	"uid-whitelist/internal/ledger"
	"uid-whitelist/internal/maintenance"
	"uid-whitelist/internal/observability"
	"uid-whitelist/internal/ratelimit"
)

const commandLimiterIdle = 10 * time.Minute

type Options struct {
	RunMigrations bool
	// StartBots lets the bot manager open gateway connections. Without it the
	// bot endpoints only manage stored records.
	StartBots bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Bots    *bot.Manager
	Sweeper *maintenance.Sweeper
	Close   func() error
}

func Build(ctx context.Context, cfg config.Config, options Options) (*Runtime, error) {
	logger := observability.NewLoggerTo(os.Stdout, cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations {
		if err := db.RunMigrations(ctx, database, cfg.Database.Driver); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo)
	authService.WithSecurityConfig(cfg.Auth.LoginMaxAttempts, cfg.Auth.LoginLockDuration)

	if err := authService.Bootstrap(ctx, logger, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	sessions := auth.NewRegistry(authService, auth.NewMemoryStore(), cfg.Auth.SessionTTL)
	gate := auth.NewGate(sessions)
	authHandler := auth.NewHandler(sessions, authService)
	loginLimiter := auth.NewLoginRateLimiter(cfg.Auth.LoginRateLimitMax, cfg.Auth.LoginRateLimitWndw)

	uidLedger := ledger.New(ledger.NewRepository(database), ledger.WithStoreTimeout(cfg.Ledger.StoreTimeout))
	ledgerHandler := ledger.NewHandler(uidLedger)

	commandLimiter := ratelimit.NewKeyed(rate.Limit(cfg.Bots.CommandRate), cfg.Bots.CommandBurst, commandLimiterIdle)
	dispatcher := bot.NewDispatcher(uidLedger, commandLimiter, logger)

	var factory bot.GatewayFactory
	if options.StartBots && cfg.Bots.Enabled {
		factory = bot.DiscordFactory(dispatcher, logger)
	}
	botManager := bot.NewManager(
		bot.NewRepository(database),
		factory,
		bot.SupervisorConfig{
			MaxAttempts:       cfg.Bots.MaxReconnectAttempts,
			Backoff:           cfg.Bots.ReconnectBackoff,
			HeartbeatInterval: cfg.Bots.HeartbeatInterval,
			ReadyTimeout:      cfg.Bots.ReadyTimeout,
		},
		cfg.Bots.AutoStartStagger,
		logger,
	)
	botHandler := bot.NewHandler(botManager)

	job := &maintenance.Job{
		UIDs:                  uidLedger,
		Sessions:              sessions,
		Auth:                  authRepo,
		Limiter:               pruners{loginLimiter, commandLimiterPruner{commandLimiter}},
		LoginAttemptRetention: cfg.Cleanup.LoginAttemptRetention,
		BatchSize:             cfg.Cleanup.BatchSize,
	}
	cleanupHandler := maintenance.NewCleanupHandler(job, logger, cfg.Cleanup.CronSecret)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /auth/logout", gate.Session(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET /auth/me", gate.Session(http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /auth/create-user", gate.Admin(http.HandlerFunc(authHandler.CreateUser)))
	mux.Handle("GET /auth/users", gate.Admin(http.HandlerFunc(authHandler.ListUsers)))

	mux.Handle("GET /uids", gate.Session(http.HandlerFunc(ledgerHandler.ListAll)))
	mux.Handle("GET /uids/active", gate.Session(http.HandlerFunc(ledgerHandler.ListActive)))
	mux.Handle("GET /uids/expired", gate.Session(http.HandlerFunc(ledgerHandler.ListExpired)))
	mux.Handle("GET /uids/{uid}", gate.Session(http.HandlerFunc(ledgerHandler.Get)))
	mux.Handle("POST /uids", gate.Session(http.HandlerFunc(ledgerHandler.Create)))
	mux.Handle("PATCH /uids/{uid}", gate.Session(http.HandlerFunc(ledgerHandler.Extend)))
	mux.Handle("DELETE /uids/{uid}", gate.Session(http.HandlerFunc(ledgerHandler.Delete)))
	mux.Handle("DELETE /uids", gate.Admin(http.HandlerFunc(ledgerHandler.ClearAll)))
	mux.Handle("POST /cleanup", gate.Session(http.HandlerFunc(ledgerHandler.Cleanup)))
	mux.Handle("GET /stats", gate.Session(http.HandlerFunc(ledgerHandler.Stats)))

	mux.Handle("POST /bots", gate.Admin(http.HandlerFunc(botHandler.Create)))
	mux.Handle("GET /bots", gate.Admin(http.HandlerFunc(botHandler.List)))
	mux.Handle("DELETE /bots/{token}", gate.Admin(http.HandlerFunc(botHandler.Delete)))
	mux.Handle("PATCH /bots/{token}/status", gate.Admin(http.HandlerFunc(botHandler.UpdateStatus)))
	mux.Handle("GET /bots/status/check", gate.Admin(http.HandlerFunc(botHandler.StatusCheck)))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database, cfg.Database.Driver))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", mux))
	root.Handle("/", mux)

	var handler http.Handler = root
	if cfg.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, cfg.RequestTimeout, `{"error":"request timed out"}`)
	}
	handler = observability.RequestLoggingMiddleware(logger, handler)
	handler = observability.RecoverMiddleware(logger, handler)
	handler = observability.RequestContextMiddleware(cfg.TrustProxy, handler)

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Bots:    botManager,
		Sweeper: maintenance.NewSweeper(job, cfg.Cleanup.Interval, logger),
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

type pruners []maintenance.Pruner

func (p pruners) Prune() int {
	total := 0
	for _, pruner := range p {
		total += pruner.Prune()
	}
	return total
}

type commandLimiterPruner struct {
	limiter *ratelimit.Keyed
}

func (c commandLimiterPruner) Prune() int {
	return c.limiter.Prune(time.Now())
}

func healthHandler(database *sql.DB, driver string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if version, err := db.SchemaVersion(ctx, database, driver); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		} else {
			body["schema_version"] = version
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
