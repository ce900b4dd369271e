package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

type requestIDKey struct{}

type clientIPKey struct{}

const (
	RequestIDHeader     = "X-Request-ID"
	forwardedForHeader  = "X-Forwarded-For"
	maxRequestIDLength  = 64
	unknownClientIPText = "unknown"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.statusCode = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestContextMiddleware tags every request with a request ID and the
// resolved client IP. With trustProxy the last X-Forwarded-For hop, the one
// appended by the fronting proxy, is taken as the client; otherwise the
// header is ignored and only the socket peer counts.
func RequestContextMiddleware(trustProxy bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = withRequestID(w, r)
		ctx := context.WithValue(r.Context(), clientIPKey{}, ResolveClientIP(r, trustProxy))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestLoggingMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		r = withRequestID(w, r)

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		logger.Info("http_request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          ClientIP(r),
			"request_id":  RequestID(r.Context()),
		})
	})
}

// withRequestID keeps an ID already placed on the context, then a sane
// incoming header, and mints one otherwise.
func withRequestID(w http.ResponseWriter, r *http.Request) *http.Request {
	if id := RequestID(r.Context()); id != "" {
		return r
	}

	requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if requestID == "" || len(requestID) > maxRequestIDLength {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)
	return r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := RequestID(r.Context())
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("request_id", requestID)
				scope.SetTag("path", r.URL.Path)
				scope.SetExtra("panic", rec)
				scope.SetExtra("stack", string(debug.Stack()))
				sentry.CaptureMessage("panic in request")
			})

			logger.Error("panic_recovered", map[string]any{
				"path":       r.URL.Path,
				"method":     r.Method,
				"panic":      rec,
				"ip":         ClientIP(r),
				"request_id": requestID,
			})

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		}()

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the IP resolved by RequestContextMiddleware. Outside that
// middleware it falls back to the socket peer without its port.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return ResolveClientIP(r, false)
}

func ResolveClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := lastForwardedHop(r.Header.Values(forwardedForHeader)); ip != "" {
			return ip
		}
	}

	if ip := hostOnly(r.RemoteAddr); ip != "" {
		return ip
	}
	return unknownClientIPText
}

func lastForwardedHop(values []string) string {
	for i := len(values) - 1; i >= 0; i-- {
		hops := strings.Split(values[i], ",")
		for j := len(hops) - 1; j >= 0; j-- {
			if ip := hostOnly(hops[j]); ip != "" {
				return ip
			}
		}
	}
	return ""
}

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return strings.Trim(host, "[]")
	}
	return strings.Trim(addr, "[]")
}
