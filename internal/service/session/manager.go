package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidKey reports whether a client supplied key is a plausible session identifier.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Lease is exclusive access to one session for the duration of a turn. Session is a private
// copy; nothing is visible to other turns until Commit.
type Lease struct {
	Key     string
	Session *chat.Session
	// Created is true when the key had no stored session.
	Created bool
	// Rejected is true when the client key was malformed and replaced by a fresh one.
	Rejected bool

	unlock func()
}

// Release gives up the lease. It is safe to call more than once.
func (l *Lease) Release() {
	if l != nil && l.unlock != nil {
		l.unlock()
	}
}

// Manager implements get-or-create with per-key exclusivity on top of a Store.
type Manager struct {
	store  Store
	locker Locker
	now    func() time.Time
	newKey func() string
	logger *zap.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithKeyGenerator overrides uuid generation.
func WithKeyGenerator(gen func() string) Option {
	return func(m *Manager) { m.newKey = gen }
}

// WithLocker replaces the in-process KeyLocker, e.g. with a RedisLocker when several
// processes share one store.
func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// NewManager wires a store with a fresh KeyLocker.
func NewManager(store Store, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		locker: NewKeyLocker(),
		now:    func() time.Time { return time.Now().UTC() },
		newKey: uuid.NewString,
		logger: logger.Named("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin resolves key to a session, creating one when key is empty, malformed or unknown, and
// holds the key's lease until Release. A well-formed unknown key is adopted as the new id.
func (m *Manager) Begin(ctx context.Context, key string) (*Lease, error) {
	key = strings.TrimSpace(key)
	rejected := false
	switch {
	case key == "":
		key = m.newKey()
	case !ValidKey(key):
		m.logger.Info("malformed session key replaced", zap.Int("length", len(key)))
		key = m.newKey()
		rejected = true
	}

	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire session %s: %w", key, err)
	}

	session, err := m.store.Load(ctx, key)
	created := false
	switch {
	case errors.Is(err, ErrSessionNotFound):
		session = chat.NewSession(key, m.now())
		created = true
	case err != nil:
		unlock()
		return nil, err
	}

	return &Lease{Key: key, Session: session, Created: created, Rejected: rejected, unlock: unlock}, nil
}

// Commit publishes the lease's session. The caller still owns the lease and must Release it.
func (m *Manager) Commit(ctx context.Context, lease *Lease) error {
	lease.Session.UpdatedAt = m.now()
	return m.store.Save(ctx, lease.Session)
}

// Get returns a copy of a stored session without taking the lease.
func (m *Manager) Get(ctx context.Context, key string) (*chat.Session, error) {
	if !ValidKey(key) {
		return nil, ErrSessionNotFound
	}
	return m.store.Load(ctx, key)
}

// Delete removes a session under its lease so it cannot race a running turn.
// Unknown keys report ErrSessionNotFound.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return ErrSessionNotFound
	}
	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	if _, err := m.store.Load(ctx, key); err != nil {
		return err
	}
	return m.store.Delete(ctx, key)
}
