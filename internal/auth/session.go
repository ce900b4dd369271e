package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const sessionTokenBytes = 32

// SessionStore holds live sessions keyed by token.
type SessionStore interface {
	Put(session Session)
	Get(token string) (Session, bool)
	Delete(token string) bool
	DeleteExpired(now time.Time) int
	Len() int
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Put(session Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Token] = session
}

func (m *MemoryStore) Get(token string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[token]
	return session, ok
}

func (m *MemoryStore) Delete(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[token]; !ok {
		return false
	}
	delete(m.sessions, token)
	return true
}

func (m *MemoryStore) DeleteExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for token, session := range m.sessions {
		if session.Expired(now) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Authenticator verifies credentials. *Service satisfies it.
type Authenticator interface {
	Verify(ctx context.Context, username, password string) (User, error)
}

// Registry mints and resolves session tokens.
type Registry struct {
	creds Authenticator
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// NewRegistry builds a registry. A zero ttl issues sessions that never expire.
func NewRegistry(creds Authenticator, store SessionStore, ttl time.Duration) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Registry{creds: creds, store: store, ttl: ttl, now: time.Now}
}

func (r *Registry) WithClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *Registry) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := r.creds.Verify(ctx, username, password)
	if err != nil {
		return Session{}, err
	}

	token, err := randomToken(sessionTokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generate session token: %w", err)
	}

	now := r.now().UTC()
	session := Session{
		Token:     token,
		Username:  user.Username,
		Role:      user.Role,
		CreatedAt: now,
	}
	if r.ttl > 0 {
		session.ExpiresAt = now.Add(r.ttl)
	}

	r.store.Put(session)
	return session, nil
}

// Resolve looks a token up. Expired sessions resolve as absent.
func (r *Registry) Resolve(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	session, ok := r.store.Get(token)
	if !ok || session.Expired(r.now()) {
		return Session{}, false
	}
	return session, true
}

func (r *Registry) Logout(token string) bool {
	if token == "" {
		return false
	}
	return r.store.Delete(token)
}

// Sweep drops expired sessions and returns how many went.
func (r *Registry) Sweep() int {
	return r.store.DeleteExpired(r.now())
}

func (r *Registry) Count() int {
	return r.store.Len()
}
