package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"uid-whitelist/internal/auth"
)

type UIDCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type SessionSweeper interface {
	Sweep() int
}

type AuthCleaner interface {
	CleanupStaleAuthData(ctx context.Context, loginAttemptRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type Pruner interface {
	Prune() int
}

type Result struct {
	DeletedUIDs          int64 `json:"deleted_uids"`
	SweptSessions        int   `json:"swept_sessions"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
	PrunedRateLimits     int   `json:"pruned_rate_limits"`
}

// Job is one maintenance pass. Any nil part is skipped.
type Job struct {
	UIDs                  UIDCleaner
	Sessions              SessionSweeper
	Auth                  AuthCleaner
	Limiter               Pruner
	LoginAttemptRetention time.Duration
	BatchSize             int
}

// Run executes every part even when an earlier one fails and returns the
// joined errors alongside whatever was cleaned.
func (j *Job) Run(ctx context.Context) (Result, error) {
	var (
		result Result
		errs   []error
	)

	if j.UIDs != nil {
		deleted, err := j.UIDs.CleanupExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup expired uids: %w", err))
		}
		result.DeletedUIDs = deleted
	}

	if j.Sessions != nil {
		result.SweptSessions = j.Sessions.Sweep()
	}

	if j.Auth != nil {
		cleaned, err := j.Auth.CleanupStaleAuthData(ctx, j.LoginAttemptRetention, j.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup auth data: %w", err))
		}
		result.DeletedLoginAttempts = cleaned.DeletedLoginAttempts
	}

	if j.Limiter != nil {
		result.PrunedRateLimits = j.Limiter.Prune()
	}

	return result, errors.Join(errs...)
}

func (r Result) fields() map[string]any {
	return map[string]any{
		"deleted_uids":           r.DeletedUIDs,
		"swept_sessions":         r.SweptSessions,
		"deleted_login_attempts": r.DeletedLoginAttempts,
		"pruned_rate_limits":     r.PrunedRateLimits,
	}
}
