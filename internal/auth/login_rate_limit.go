package auth

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"uid-whitelist/internal/observability"
	"uid-whitelist/internal/ratelimit"
)

// LoginRateLimiter throttles login calls per client ip before credentials
// are looked at.
type LoginRateLimiter struct {
	limiter *ratelimit.Keyed
	now     func() time.Time
}

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	return &LoginRateLimiter{
		limiter: ratelimit.PerWindow(maxHits, window),
		now:     time.Now,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.limiter.Allow(observability.ClientIP(r), l.now().UTC())
		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Prune forgets clients that have been quiet for a while.
func (l *LoginRateLimiter) Prune() int {
	return l.limiter.Prune(l.now().UTC())
}
