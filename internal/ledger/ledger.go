// Package ledger is the authoritative UID expiry store. All expiry arithmetic
// and status derivation happen here.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	defaultStoreTimeout = 5 * time.Second
	maxUIDLength        = 128
)

var (
	ErrInvalidHours = errors.New("hours must be a positive integer")
	ErrInvalidUID   = errors.New("uid is invalid")
	ErrUIDExists    = errors.New("uid already exists")
	ErrUIDNotFound  = errors.New("uid not found")
)

// Store persists UID records. Each method is a single atomic store call.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	// InsertIfAbsent reports false when the uid is already present.
	InsertIfAbsent(ctx context.Context, rec Record) (bool, error)
	Delete(ctx context.Context, uid string) (bool, error)
	Get(ctx context.Context, uid string) (Record, error)
	ListAll(ctx context.Context) ([]Record, error)
	ListActive(ctx context.Context, now int64) ([]Record, error)
	ListExpired(ctx context.Context, now int64) ([]Record, error)
	DeleteExpired(ctx context.Context, cutoff int64) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	Stats(ctx context.Context, now int64) (Stats, error)
}

type Ledger struct {
	store   Store
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithStoreTimeout(timeout time.Duration) Option {
	return func(l *Ledger) {
		if timeout > 0 {
			l.timeout = timeout
		}
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		now:     time.Now,
		timeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NormalizeUID trims uid and checks it is 1..128 printable characters.
func NormalizeUID(uid string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" || !utf8.ValidString(uid) || utf8.RuneCountInString(uid) > maxUIDLength {
		return "", ErrInvalidUID
	}
	for _, r := range uid {
		if !unicode.IsPrint(r) {
			return "", ErrInvalidUID
		}
	}
	return uid, nil
}

// ValidateHours applies the full 1..MaxHours range used by the command surfaces.
func ValidateHours(hours int) error {
	if hours < 1 || hours > MaxHours {
		return ErrInvalidHours
	}
	return nil
}

func (l *Ledger) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

func (l *Ledger) record(uid string, hours int) (Record, time.Time, error) {
	if hours < 1 {
		return Record{}, time.Time{}, ErrInvalidHours
	}
	uid, err := NormalizeUID(uid)
	if err != nil {
		return Record{}, time.Time{}, err
	}

	now := l.now()
	return Record{UID: uid, Expiry: now.Unix() + int64(hours)*secondsPerHour}, now, nil
}

// AddUID sets the expiry of uid to now+hours, creating or overwriting it.
func (l *Ledger) AddUID(ctx context.Context, uid string, hours int) (Entry, error) {
	rec, now, err := l.record(uid, hours)
	if err != nil {
		return Entry{}, err
	}

	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	if err := l.store.Upsert(ctx, rec); err != nil {
		return Entry{}, err
	}
	return Derive(rec, now), nil
}

// CreateUID is AddUID that refuses to touch an existing uid.
func (l *Ledger) CreateUID(ctx context.Context, uid string, hours int) (Entry, error) {
	rec, now, err := l.record(uid, hours)
	if err != nil {
		return Entry{}, err
	}

	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	inserted, err := l.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return Entry{}, err
	}
	if !inserted {
		return Entry{}, ErrUIDExists
	}
	return Derive(rec, now), nil
}

// RemoveUID reports whether a record existed.
func (l *Ledger) RemoveUID(ctx context.Context, uid string) (bool, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return false, nil
	}

	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	return l.store.Delete(ctx, uid)
}

func (l *Ledger) GetUID(ctx context.Context, uid string) (Entry, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Entry{}, ErrUIDNotFound
	}

	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	rec, err := l.store.Get(ctx, uid)
	if err != nil {
		return Entry{}, err
	}
	return Derive(rec, l.now()), nil
}

func (l *Ledger) ListAll(ctx context.Context) ([]Entry, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	now := l.now()
	records, err := l.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return deriveAll(records, now), nil
}

func (l *Ledger) ListActive(ctx context.Context) ([]Entry, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	now := l.now()
	records, err := l.store.ListActive(ctx, now.Unix())
	if err != nil {
		return nil, err
	}
	return deriveAll(records, now), nil
}

func (l *Ledger) ListExpired(ctx context.Context) ([]Entry, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	now := l.now()
	records, err := l.store.ListExpired(ctx, now.Unix())
	if err != nil {
		return nil, err
	}
	return deriveAll(records, now), nil
}

// CleanupExpired removes every record with expiry <= now, deciding now once.
func (l *Ledger) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	return l.store.DeleteExpired(ctx, l.now().Unix())
}

func (l *Ledger) ClearAll(ctx context.Context) (int64, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	return l.store.DeleteAll(ctx)
}

func (l *Ledger) Statistics(ctx context.Context) (Stats, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	return l.store.Stats(ctx, l.now().Unix())
}
