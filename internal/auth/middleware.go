package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type sessionKey struct{}

// Gate answers whether a bearer token may call a route. It never mutates
// session state.
type Gate struct {
	sessions *Registry
}

func NewGate(sessions *Registry) *Gate {
	return &Gate{sessions: sessions}
}

func (g *Gate) RequireSession(token string) (Session, error) {
	session, ok := g.sessions.Resolve(token)
	if !ok {
		return Session{}, ErrUnauthorized
	}
	return session, nil
}

func (g *Gate) RequireAdmin(token string) (Session, error) {
	session, err := g.RequireSession(token)
	if err != nil {
		return Session{}, err
	}
	if !session.IsAdmin() {
		return Session{}, ErrForbidden
	}
	return session, nil
}

func (g *Gate) Session(next http.Handler) http.Handler {
	return g.middleware(g.RequireSession, next)
}

func (g *Gate) Admin(next http.Handler) http.Handler {
	return g.middleware(g.RequireAdmin, next)
}

func (g *Gate) middleware(check func(string) (Session, error), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(w, r)
		if !ok {
			return
		}

		session, err := check(token)
		if err != nil {
			if errors.Is(err, ErrForbidden) {
				writeError(w, http.StatusForbidden, "admin access required")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(Session)
	return session, ok
}

func bearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		writeError(w, http.StatusUnauthorized, "invalid authorization format")
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		writeError(w, http.StatusUnauthorized, "invalid authorization token")
		return "", false
	}

	return token, true
}
