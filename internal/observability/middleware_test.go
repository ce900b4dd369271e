package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggingMiddleware_LogsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info")

	var seenID string
	handler := RequestLoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/uids", nil)
	req.RemoteAddr = "192.0.2.44:51000"
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.NotEmpty(t, seenID)
	assert.Equal(t, seenID, rec.Header().Get(RequestIDHeader))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "http_request", lines[0]["message"])
	assert.EqualValues(t, http.StatusTeapot, lines[0]["status"])
	assert.Equal(t, "192.0.2.44", lines[0]["ip"])
	assert.Equal(t, seenID, lines[0]["request_id"])
}

func TestRequestLoggingMiddleware_KeepsIncomingRequestID(t *testing.T) {
	handler := RequestLoggingMiddleware(Discard(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRecoverMiddleware_Returns500OnPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info")

	handler := RequestContextMiddleware(false, RecoverMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})))

	req := httptest.NewRequest(http.MethodPost, "/cleanup", nil)
	req.RemoteAddr = "192.0.2.8:6000"
	req.Header.Set(RequestIDHeader, "req-77")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "panic_recovered", lines[0]["message"])
	assert.Equal(t, "kaboom", lines[0]["panic"])
	assert.Equal(t, "req-77", lines[0]["request_id"])
	assert.Equal(t, "192.0.2.8", lines[0]["ip"])
}

func TestRequestContextMiddleware_SharesIDWithLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info")

	var seenID string
	handler := RequestContextMiddleware(false, RequestLoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.NotEmpty(t, seenID)
	assert.Equal(t, []string{seenID}, rec.Header().Values(RequestIDHeader))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, seenID, lines[0]["request_id"])
}

func TestClientIP_StripsPort(t *testing.T) {
	for _, addr := range []string{"192.0.2.1:1234", "192.0.2.1:40001", "192.0.2.1:65535"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		assert.Equal(t, "192.0.2.1", ClientIP(req), addr)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:8443"
	assert.Equal(t, "2001:db8::1", ClientIP(req))

	req.RemoteAddr = ""
	assert.Equal(t, "unknown", ClientIP(req))
}

func TestResolveClientIP_ForwardedForNeedsTrust(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		forwarded  []string
		want       string
	}{
		{name: "ignored when untrusted", trustProxy: false, forwarded: []string{"203.0.113.5"}, want: "192.0.2.1"},
		{name: "proxy hop when trusted", trustProxy: true, forwarded: []string{"203.0.113.5"}, want: "203.0.113.5"},
		{name: "spoofed prefix is skipped", trustProxy: true, forwarded: []string{"6.6.6.6, 203.0.113.5"}, want: "203.0.113.5"},
		{name: "last header wins", trustProxy: true, forwarded: []string{"6.6.6.6", "203.0.113.9:7000"}, want: "203.0.113.9"},
		{name: "empty header falls back", trustProxy: true, forwarded: []string{" , "}, want: "192.0.2.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:9999"
			for _, v := range tc.forwarded {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tc.want, ResolveClientIP(req, tc.trustProxy))

			var seen string
			RequestContextMiddleware(tc.trustProxy, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = ClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tc.want, seen)
		})
	}
}
