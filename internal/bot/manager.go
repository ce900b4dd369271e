package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"uid-whitelist/internal/observability"
)

var ErrInvalidBot = errors.New("bot token and name are required")

type GatewayFactory func(token, name string) (Gateway, error)

// DiscordFactory builds Discord gateways that answer commands through d.
func DiscordFactory(d *Dispatcher, logger *observability.Logger) GatewayFactory {
	return func(token, name string) (Gateway, error) {
		return NewDiscordGateway(token, name, d, logger)
	}
}

type runningBot struct {
	name       string
	supervisor *Supervisor
	cancel     context.CancelFunc
	done       chan struct{}
}

func (r *runningBot) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Manager owns every bot supervisor in the process. Finished supervisors are
// kept so their last failure stays visible to status checks.
type Manager struct {
	repo    *Repository
	factory GatewayFactory
	cfg     SupervisorConfig
	stagger time.Duration
	logger  *observability.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	bots map[string]*runningBot
}

func NewManager(repo *Repository, factory GatewayFactory, cfg SupervisorConfig, stagger time.Duration, logger *observability.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:    repo,
		factory: factory,
		cfg:     cfg,
		stagger: stagger,
		logger:  logger,
		baseCtx: ctx,
		stop:    cancel,
		bots:    make(map[string]*runningBot),
	}
}

// Register persists a new bot and starts connecting it in the background.
func (m *Manager) Register(ctx context.Context, token, name string) (View, error) {
	token = strings.TrimSpace(token)
	name = strings.TrimSpace(name)
	if token == "" || name == "" {
		return View{}, ErrInvalidBot
	}

	rec, err := m.repo.Create(ctx, token, name)
	if err != nil {
		return View{}, err
	}

	if err := m.Start(token, name); err != nil {
		m.logger.Error("bot_start_failed", map[string]any{"bot": name, "error": err.Error()})
	}

	return newView(rec, m.Status(token)), nil
}

// Start launches a supervisor for the bot unless one is already running.
// A Manager built without a factory only keeps the registry.
func (m *Manager) Start(token, name string) error {
	if m.factory == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.baseCtx.Err() != nil {
		return fmt.Errorf("start bot %s: manager stopped", name)
	}
	if existing, ok := m.bots[token]; ok && !existing.finished() {
		return nil
	}

	gateway, err := m.factory(token, name)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	entry := &runningBot{
		name:       name,
		supervisor: NewSupervisor(token, name, gateway, m.repo, m.cfg, m.logger),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.bots[token] = entry

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(entry.done)
		defer cancel()

		if err := entry.supervisor.Run(ctx); err != nil {
			m.logger.Warn("bot_supervisor_exited", map[string]any{"bot": name, "error": err.Error()})
		}
	}()

	return nil
}

// Stop disconnects the bot and waits for its supervisor to exit.
func (m *Manager) Stop(token string) {
	m.mu.Lock()
	entry, ok := m.bots[token]
	delete(m.bots, token)
	m.mu.Unlock()

	if !ok {
		return
	}
	entry.cancel()
	<-entry.done
}

func (m *Manager) Delete(ctx context.Context, token string) error {
	m.Stop(token)
	return m.repo.Delete(ctx, token)
}

func (m *Manager) List(ctx context.Context) ([]View, error) {
	records, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(records))
	for _, rec := range records {
		views = append(views, newView(rec, m.Status(rec.Token)))
	}
	return views, nil
}

// UpdateStatus overwrites the stored status. The live connection is untouched.
func (m *Manager) UpdateStatus(ctx context.Context, token string, status Status) (View, error) {
	if err := m.repo.SetStatus(ctx, token, status, time.Now()); err != nil {
		return View{}, err
	}

	rec, err := m.repo.Get(ctx, token)
	if err != nil {
		return View{}, err
	}
	return newView(rec, m.Status(token)), nil
}

func (m *Manager) StatusCheck(ctx context.Context) ([]StatusCheck, error) {
	records, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	checks := make([]StatusCheck, 0, len(records))
	for _, rec := range records {
		snap := m.Status(rec.Token)
		check := StatusCheck{
			Name:         rec.Name,
			Token:        maskToken(rec.Token),
			DBStatus:     rec.Status,
			ActualStatus: string(snap.State),
			Failures:     snap.Failures,
			LastError:    snap.LastError,
		}
		if rec.LastHeartbeat != nil {
			check.LastHeartbeat = rec.LastHeartbeat.Format(time.RFC3339)
		}
		checks = append(checks, check)
	}
	return checks, nil
}

// AutoStart starts every stored bot, waiting stagger between launches.
func (m *Manager) AutoStart(ctx context.Context) error {
	records, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}

	m.logger.Info("bots_autostart", map[string]any{"count": len(records)})

	for i, rec := range records {
		if i > 0 && m.stagger > 0 {
			timer := time.NewTimer(m.stagger)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
		if err := m.Start(rec.Token, rec.Name); err != nil {
			m.logger.Error("bot_start_failed", map[string]any{"bot": rec.Name, "error": err.Error()})
		}
	}
	return nil
}

// Shutdown stops all supervisors and waits for them, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stop()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bot shutdown: %w", ctx.Err())
	}
}

// Status reports the live state of a bot; bots without a supervisor are disconnected.
func (m *Manager) Status(token string) Snapshot {
	m.mu.Lock()
	entry, ok := m.bots[token]
	m.mu.Unlock()

	if !ok {
		return Snapshot{State: StateDisconnected}
	}
	return entry.supervisor.Snapshot()
}
