package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"uid-whitelist/internal/observability"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute

	// MaxPasswordBytes is the most bcrypt will hash.
	MaxPasswordBytes = 72
)

// Service is the credential store: password verification, login lockout and
// user management on top of the users table.
type Service struct {
	repo         *Repository
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
}

func NewService(repo *Repository) *Service {
	return &Service{
		repo:         repo,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		now:          time.Now,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
}

// Verify checks a username/password pair. Unknown users and wrong passwords
// both yield ErrInvalidCredentials.
func (s *Service) Verify(ctx context.Context, username, password string) (User, error) {
	username = normalizeUsername(username)
	password = strings.TrimSpace(password)

	if username == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	attempt, err := s.repo.GetLoginAttempt(ctx, username)
	if err != nil {
		return User{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return User{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, s.registerFailure(ctx, username, now)
		}
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, s.registerFailure(ctx, username, now)
	}

	if attempt.FailedAttempts > 0 || attempt.LockedUntil != nil {
		if err := s.repo.ResetLoginAttempt(ctx, username); err != nil {
			return User{}, err
		}
	}

	return user, nil
}

func (s *Service) registerFailure(ctx context.Context, username string, now time.Time) error {
	lockedUntil, err := s.repo.RegisterFailedAttempt(ctx, username, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

func (s *Service) CreateUser(ctx context.Context, username, password string, role Role) (User, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	hash, err := hashPassword(password)
	if err != nil {
		return User{}, err
	}

	return s.repo.CreateUser(ctx, username, string(hash), role)
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// Bootstrap makes sure an admin account exists. With a password configured the
// admin is upserted; otherwise a missing admin is created with a random
// password that is logged once.
func (s *Service) Bootstrap(ctx context.Context, logger *observability.Logger, adminUsername, adminPassword string) error {
	adminUsername = normalizeUsername(adminUsername)
	adminPassword = strings.TrimSpace(adminPassword)

	if adminUsername == "" {
		return fmt.Errorf("ADMIN_USERNAME must not be empty")
	}

	if adminPassword != "" {
		hash, err := hashPassword(adminPassword)
		if err != nil {
			return fmt.Errorf("ADMIN_PASSWORD: %w", err)
		}
		if err := s.repo.UpsertAdmin(ctx, adminUsername, string(hash)); err != nil {
			return err
		}
		logger.Info("admin_bootstrapped", map[string]any{"username": adminUsername})
		return nil
	}

	generated, err := randomToken(12)
	if err != nil {
		return fmt.Errorf("generate admin password: %w", err)
	}

	_, err = s.CreateUser(ctx, adminUsername, generated, RoleAdmin)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	if err != nil {
		return err
	}

	logger.Warn("admin_created_with_generated_password", map[string]any{
		"username": adminUsername,
		"password": generated,
	})
	return nil
}

func hashPassword(password string) ([]byte, error) {
	if len(password) > MaxPasswordBytes {
		return nil, ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, ErrPasswordTooLong
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
