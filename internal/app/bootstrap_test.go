package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uid-whitelist/internal/config"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()

	cfg := config.Defaults()
	cfg.LogLevel = "error"
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.URL = filepath.Join(t.TempDir(), "app.db")
	cfg.Auth.AdminPassword = "admin-password"
	cfg.Cleanup.CronSecret = "cron-secret"

	rt, err := Build(context.Background(), cfg, Options{RunMigrations: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func call(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "198.51.100.7:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, path string) string {
	t.Helper()

	rec := call(t, h, http.MethodPost, path, "", `{"username":"admin","password":"admin-password"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Token
}

func TestBuild_HealthReportsSchemaVersion(t *testing.T) {
	rt := newTestRuntime(t)

	rec := call(t, rt.Handler, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["schema_version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestBuild_LedgerFlowUnderBothPrefixes(t *testing.T) {
	rt := newTestRuntime(t)
	token := login(t, rt.Handler, "/api/auth/login")

	rec := call(t, rt.Handler, http.MethodGet, "/uids", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, rt.Handler, http.MethodPost, "/api/uids", token, `{"uid":"player-9","hours":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, rt.Handler, http.MethodGet, "/uids/player-9", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)

	rec = call(t, rt.Handler, http.MethodGet, "/api/stats", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":1,"active":1,"expired":0}`, rec.Body.String())
}

func TestBuild_BotRoutesRequireAdmin(t *testing.T) {
	rt := newTestRuntime(t)
	admin := login(t, rt.Handler, "/auth/login")

	rec := call(t, rt.Handler, http.MethodPost, "/auth/create-user", admin, `{"username":"viewer","password":"viewer-pass"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, rt.Handler, http.MethodPost, "/auth/login", "", `{"username":"viewer","password":"viewer-pass"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	rec = call(t, rt.Handler, http.MethodGet, "/bots", body.Token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, rt.Handler, http.MethodPost, "/bots", admin, `{"botToken":"registry-only-token","name":"quiet"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, rt.Handler, http.MethodGet, "/api/bots", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isConnected":false`)
}

func TestBuild_CronCleanup(t *testing.T) {
	rt := newTestRuntime(t)

	rec := call(t, rt.Handler, http.MethodPost, "/internal/maintenance/cleanup", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, rt.Handler, http.MethodPost, "/internal/maintenance/cleanup", "cron-secret", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
