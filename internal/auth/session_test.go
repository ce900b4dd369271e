package auth

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthenticator struct {
	users map[string]User
	pass  map[string]string
}

func newFakeAuthenticator() *fakeAuthenticator {
	return &fakeAuthenticator{
		users: map[string]User{
			"admin": {Username: "admin", Role: RoleAdmin},
			"alice": {Username: "alice", Role: RoleUser},
		},
		pass: map[string]string{"admin": "admin-pass", "alice": "alice-pass"},
	}
}

func (f *fakeAuthenticator) Verify(_ context.Context, username, password string) (User, error) {
	if f.pass[username] != password || password == "" {
		return User{}, ErrInvalidCredentials
	}
	return f.users[username], nil
}

func TestRegistry_LoginMintsDistinctHexTokens(t *testing.T) {
	reg := NewRegistry(newFakeAuthenticator(), NewMemoryStore(), time.Hour)
	ctx := context.Background()

	first, err := reg.Login(ctx, "alice", "alice-pass")
	require.NoError(t, err)
	second, err := reg.Login(ctx, "alice", "alice-pass")
	require.NoError(t, err)

	for _, s := range []Session{first, second} {
		assert.Len(t, s.Token, 64)
		_, err := hex.DecodeString(s.Token)
		assert.NoError(t, err)
	}
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, 2, reg.Count())

	resolved, ok := reg.Resolve(first.Token)
	require.True(t, ok)
	assert.Equal(t, "alice", resolved.Username)
	assert.Equal(t, RoleUser, resolved.Role)
}

func TestRegistry_FailedLoginCreatesNoSession(t *testing.T) {
	reg := NewRegistry(newFakeAuthenticator(), nil, time.Hour)

	for i := 0; i < 2; i++ {
		_, err := reg.Login(context.Background(), "alice", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	assert.Zero(t, reg.Count())
}

func TestRegistry_ExpiryAndSweep(t *testing.T) {
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	reg := NewRegistry(newFakeAuthenticator(), NewMemoryStore(), 2*time.Hour)
	reg.WithClock(func() time.Time { return now })

	early, err := reg.Login(context.Background(), "alice", "alice-pass")
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), early.ExpiresAt)

	now = now.Add(time.Hour)
	late, err := reg.Login(context.Background(), "admin", "admin-pass")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, ok := reg.Resolve(early.Token)
	assert.False(t, ok, "session at its expiry must not resolve")
	_, ok = reg.Resolve(late.Token)
	assert.True(t, ok)

	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_ZeroTTLNeverExpires(t *testing.T) {
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	reg := NewRegistry(newFakeAuthenticator(), NewMemoryStore(), 0)
	reg.WithClock(func() time.Time { return now })

	session, err := reg.Login(context.Background(), "alice", "alice-pass")
	require.NoError(t, err)
	assert.True(t, session.ExpiresAt.IsZero())

	now = now.Add(10 * 365 * 24 * time.Hour)
	_, ok := reg.Resolve(session.Token)
	assert.True(t, ok)
	assert.Zero(t, reg.Sweep())
}

func TestRegistry_Logout(t *testing.T) {
	reg := NewRegistry(newFakeAuthenticator(), NewMemoryStore(), time.Hour)

	session, err := reg.Login(context.Background(), "alice", "alice-pass")
	require.NoError(t, err)

	assert.True(t, reg.Logout(session.Token))
	assert.False(t, reg.Logout(session.Token))

	_, ok := reg.Resolve(session.Token)
	assert.False(t, ok)

	_, ok = reg.Resolve("")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	reg := NewRegistry(newFakeAuthenticator(), NewMemoryStore(), time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	tokens := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := reg.Login(ctx, "alice", "alice-pass")
			if !assert.NoError(t, err) {
				return
			}
			_, ok := reg.Resolve(session.Token)
			assert.True(t, ok)
			reg.Sweep()
			tokens <- session.Token
		}()
	}
	wg.Wait()
	close(tokens)

	seen := make(map[string]struct{})
	for token := range tokens {
		seen[token] = struct{}{}
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, 50, reg.Count())
}
