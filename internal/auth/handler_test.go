package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uid-whitelist/internal/observability"
)

type authStack struct {
	mux      *http.ServeMux
	sessions *Registry
	service  *Service
	gate     *Gate
}

func newAuthStack(t *testing.T, loginLimit int) *authStack {
	t.Helper()

	svc, _ := newTestService(t)
	require.NoError(t, svc.Bootstrap(context.Background(), observability.Discard(), "admin", "admin-password"))
	_, err := svc.CreateUser(context.Background(), "alice", "alice-password", RoleUser)
	require.NoError(t, err)

	sessions := NewRegistry(svc, NewMemoryStore(), time.Hour)
	gate := NewGate(sessions)
	h := NewHandler(sessions, svc)
	limiter := NewLoginRateLimiter(loginLimit, time.Minute)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", limiter.Middleware(http.HandlerFunc(h.Login)))
	mux.Handle("POST /auth/logout", gate.Session(http.HandlerFunc(h.Logout)))
	mux.Handle("GET /auth/me", gate.Session(http.HandlerFunc(h.Me)))
	mux.Handle("POST /auth/create-user", gate.Admin(http.HandlerFunc(h.CreateUser)))
	mux.Handle("GET /auth/users", gate.Admin(http.HandlerFunc(h.ListUsers)))

	return &authStack{mux: mux, sessions: sessions, service: svc, gate: gate}
}

func (s *authStack) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *authStack) login(t *testing.T, username, password string) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/auth/login", "", `{"username":"`+username+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	return body.Token
}

func TestLogin_Success(t *testing.T) {
	stack := newAuthStack(t, 10)

	rec := stack.do(t, http.MethodPost, "/auth/login", "", `{"username":"admin","password":"admin-password"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "admin", body["username"])
	assert.Equal(t, "admin", body["role"])
	assert.Len(t, body["token"], 64)
}

func TestLogin_WrongPasswordTwiceCreatesNoSession(t *testing.T) {
	stack := newAuthStack(t, 10)

	for i := 0; i < 2; i++ {
		rec := stack.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"not-her-password"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotContains(t, rec.Body.String(), "token")
	}
	assert.Zero(t, stack.sessions.Count())
}

func TestLogin_BadRequests(t *testing.T) {
	stack := newAuthStack(t, 10)

	for _, body := range []string{
		`{"username":"alice"}`,
		`{"username":"a!","password":"x"}`,
		`{"username":"alice","password":"x","extra":1}`,
		`nope`,
	} {
		rec := stack.do(t, http.MethodPost, "/auth/login", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	stack := newAuthStack(t, 2)

	for i := 0; i < 2; i++ {
		rec := stack.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"wrong-one"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := stack.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"alice-password"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func (s *authStack) loginFrom(t *testing.T, handler http.Handler, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"wrong-one"}`))
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLogin_RateLimitIgnoresSourcePort(t *testing.T) {
	stack := newAuthStack(t, 3)

	for port := 40000; port < 40003; port++ {
		rec := stack.loginFrom(t, stack.mux, fmt.Sprintf("203.0.113.20:%d", port), "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := stack.loginFrom(t, stack.mux, "203.0.113.20:40003", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = stack.loginFrom(t, stack.mux, "203.0.113.21:40003", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_ForwardedForNeedsTrustedProxy(t *testing.T) {
	t.Run("untrusted header cannot dodge the limit", func(t *testing.T) {
		stack := newAuthStack(t, 2)
		handler := observability.RequestContextMiddleware(false, stack.mux)

		for i := 0; i < 2; i++ {
			rec := stack.loginFrom(t, handler, "203.0.113.30:5000", fmt.Sprintf("10.9.0.%d", i))
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		}
		rec := stack.loginFrom(t, handler, "203.0.113.30:5001", "10.9.0.99")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("trusted proxy hop is the key", func(t *testing.T) {
		stack := newAuthStack(t, 2)
		handler := observability.RequestContextMiddleware(true, stack.mux)

		for i := 0; i < 2; i++ {
			rec := stack.loginFrom(t, handler, "10.0.0.1:443", "198.51.100.4")
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		}
		rec := stack.loginFrom(t, handler, "10.0.0.1:443", "198.51.100.4")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		rec = stack.loginFrom(t, handler, "10.0.0.1:443", "198.51.100.5")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogin_LockedReturns429(t *testing.T) {
	stack := newAuthStack(t, 100)
	stack.service.WithSecurityConfig(2, time.Minute)

	for i := 0; i < 2; i++ {
		stack.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"wrong-one"}`)
	}

	rec := stack.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"alice-password"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "login temporarily locked", decodeError(t, rec))
}

func TestCreateUser_UserRoleForbidden(t *testing.T) {
	stack := newAuthStack(t, 10)
	token := stack.login(t, "alice", "alice-password")

	rec := stack.do(t, http.MethodPost, "/auth/create-user", token, `{"username":"mallory","password":"mallory-pass"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = stack.do(t, http.MethodGet, "/auth/users", token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateUser_AdminFlow(t *testing.T) {
	stack := newAuthStack(t, 10)
	token := stack.login(t, "admin", "admin-password")

	rec := stack.do(t, http.MethodPost, "/auth/create-user", token, `{"username":"erin","password":"erin-password","role":"user"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, true, created["success"])

	rec = stack.do(t, http.MethodPost, "/auth/create-user", token, `{"username":"erin","password":"erin-password"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	for _, tc := range []struct {
		name     string
		password string
		role     string
	}{
		{name: "unknown role", password: "frank-password", role: "owner"},
		{name: "short password", password: "short"},
		{name: "password past bcrypt limit", password: strings.Repeat("p", MaxPasswordBytes+1)},
		{name: "very long password", password: strings.Repeat("p", 100)},
	} {
		body, err := json.Marshal(map[string]string{"username": "frank", "password": tc.password, "role": tc.role})
		require.NoError(t, err)
		rec = stack.do(t, http.MethodPost, "/auth/create-user", token, string(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}

	longest := strings.Repeat("p", MaxPasswordBytes)
	rec = stack.do(t, http.MethodPost, "/auth/create-user", token, `{"username":"grace","password":"`+longest+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = stack.do(t, http.MethodGet, "/auth/users", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var users []userView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
		_, err := time.Parse(time.RFC3339, u.CreatedAt)
		assert.NoError(t, err)
	}
	assert.ElementsMatch(t, []string{"admin", "alice", "erin", "grace"}, names)

	stack.login(t, "erin", "erin-password")
	stack.login(t, "grace", longest)
}

func TestMeAndLogout(t *testing.T) {
	stack := newAuthStack(t, 10)
	token := stack.login(t, "alice", "alice-password")

	rec := stack.do(t, http.MethodGet, "/auth/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"username":"alice","role":"user"}`, rec.Body.String())

	rec = stack.do(t, http.MethodPost, "/auth/logout", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = stack.do(t, http.MethodGet, "/auth/me", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_Middleware(t *testing.T) {
	stack := newAuthStack(t, 10)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer   ", http.StatusUnauthorized},
		{"unknown token", "Bearer deadbeef", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			stack.mux.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestGate_RequireAdmin(t *testing.T) {
	stack := newAuthStack(t, 10)
	userToken := stack.login(t, "alice", "alice-password")
	adminToken := stack.login(t, "admin", "admin-password")

	_, err := stack.gate.RequireAdmin("missing")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = stack.gate.RequireAdmin(userToken)
	require.ErrorIs(t, err, ErrForbidden)

	session, err := stack.gate.RequireAdmin(adminToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", session.Username)

	session, err = stack.gate.RequireSession(userToken)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, session.Role)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}
