package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"uid-whitelist/internal/observability"
)

var ErrGaveUp = errors.New("bot gave up reconnecting")

var errConnectionDropped = errors.New("gateway connection dropped")

const statusWriteTimeout = 5 * time.Second

// Gateway is one chat connection. Open blocks until the connection is ready
// or ctx ends; the returned channel fires when an open connection drops.
type Gateway interface {
	Open(ctx context.Context) (<-chan error, error)
	Close() error
}

// StatusStore persists what a supervisor observes. *Repository satisfies it.
type StatusStore interface {
	SetStatus(ctx context.Context, token string, status Status, at time.Time) error
	Touch(ctx context.Context, token string, at time.Time) error
}

type SupervisorConfig struct {
	MaxAttempts       int
	Backoff           time.Duration
	HeartbeatInterval time.Duration
	ReadyTimeout      time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 60 * time.Second
	}
	return c
}

type Snapshot struct {
	State     State
	Failures  int
	LastError string
	Since     time.Time
}

// Supervisor owns the connection lifecycle of a single bot:
// Disconnected -> Connecting -> Connected -> Disconnected, with a bounded
// number of consecutive failed attempts and a fixed wait between them.
type Supervisor struct {
	token   string
	name    string
	gateway Gateway
	store   StatusStore
	cfg     SupervisorConfig
	logger  *observability.Logger
	now     func() time.Time

	mu       sync.RWMutex
	state    State
	failures int
	lastErr  error
	since    time.Time
}

func NewSupervisor(token, name string, gateway Gateway, store StatusStore, cfg SupervisorConfig, logger *observability.Logger) *Supervisor {
	return &Supervisor{
		token:   token,
		name:    name,
		gateway: gateway,
		store:   store,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(map[string]any{"bot": name}),
		now:     time.Now,
		state:   StateDisconnected,
		since:   time.Now().UTC(),
	}
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{State: s.state, Failures: s.failures, Since: s.since}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != state {
		s.state = state
		s.since = s.now().UTC()
	}
}

func (s *Supervisor) recordFailure(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastErr = err
	return s.failures
}

func (s *Supervisor) resetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	s.lastErr = nil
}

// Run drives the state machine until ctx ends (nil) or the attempt budget is
// spent (ErrGaveUp).
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateConnecting)
		dropped, err := s.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if gaveUp := s.fail(err); gaveUp {
				return ErrGaveUp
			}
			if !s.wait(ctx) {
				return nil
			}
			continue
		}

		s.resetFailures()
		s.writeStatus(StatusOnline)
		s.setState(StateConnected)
		s.logger.Info("bot_connected", nil)

		dropErr := s.hold(ctx, dropped)

		if err := s.gateway.Close(); err != nil {
			s.logger.Warn("bot_close_failed", map[string]any{"error": err.Error()})
		}
		s.setState(StateDisconnected)
		s.writeStatus(StatusOffline)

		if ctx.Err() != nil {
			s.logger.Info("bot_stopped", nil)
			return nil
		}

		if gaveUp := s.fail(dropErr); gaveUp {
			return ErrGaveUp
		}
		if !s.wait(ctx) {
			return nil
		}
	}
}

func (s *Supervisor) open(ctx context.Context) (<-chan error, error) {
	openCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	dropped, err := s.gateway.Open(openCtx)
	if err != nil {
		_ = s.gateway.Close()
		return nil, fmt.Errorf("open gateway: %w", err)
	}
	return dropped, nil
}

// fail counts a failed attempt and reports whether the budget is exhausted.
func (s *Supervisor) fail(err error) bool {
	if err == nil {
		err = errConnectionDropped
	}
	s.setState(StateDisconnected)
	failures := s.recordFailure(err)

	if failures >= s.cfg.MaxAttempts {
		s.logger.Error("bot_reconnect_exhausted", map[string]any{
			"attempts": failures,
			"error":    err.Error(),
		})
		sentry.CaptureException(fmt.Errorf("bot %s: %w: %w", s.name, ErrGaveUp, err))
		s.writeStatus(StatusOffline)
		return true
	}

	s.logger.Warn("bot_connect_failed", map[string]any{
		"attempt":      failures,
		"max_attempts": s.cfg.MaxAttempts,
		"error":        err.Error(),
	})
	return false
}

func (s *Supervisor) hold(ctx context.Context, dropped <-chan error) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-dropped:
			if err == nil {
				err = errConnectionDropped
			}
			return err
		case <-ticker.C:
			s.touch()
		}
	}
}

func (s *Supervisor) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.Backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) writeStatus(status Status) {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	if err := s.store.SetStatus(ctx, s.token, status, s.now()); err != nil {
		s.logger.Warn("bot_status_write_failed", map[string]any{"status": string(status), "error": err.Error()})
	}
}

func (s *Supervisor) touch() {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	if err := s.store.Touch(ctx, s.token, s.now()); err != nil {
		s.logger.Warn("bot_heartbeat_failed", map[string]any{"error": err.Error()})
	}
}
