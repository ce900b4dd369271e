package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"uid-whitelist/internal/app"
	"uid-whitelist/internal/config"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entry point. Bots and the periodic sweeper need a
// long-running process, so here only the registry and the cron endpoint run.
// The platform edge sets X-Forwarded-For, so it is trusted unless
// TRUST_PROXY_HEADERS says otherwise.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		cfg, err := config.Load("")
		if err != nil {
			initErr = err
			return
		}
		cfg.TrustProxy = config.EnvBoolOrDefault("TRUST_PROXY_HEADERS", true)
		apiRuntime, initErr = app.Build(context.Background(), cfg, app.Options{
			RunMigrations: cfg.Database.RunMigrations,
			StartBots:     false,
		})
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
