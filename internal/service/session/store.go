package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
)

// ErrSessionNotFound is returned by Store.Load for unknown or evicted keys.
var ErrSessionNotFound = errors.New("session not found")

// Store persists whole sessions. Implementations must hand out copies: a caller mutating a
// loaded session never affects what the store holds until Save.
type Store interface {
	Load(ctx context.Context, key string) (*chat.Session, error)
	Save(ctx context.Context, session *chat.Session) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps sessions in process. Every Save restarts the entry's TTL, so only idle
// sessions are evicted.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates a store; ttl <= 0 keeps sessions for the process lifetime.
// cleanupInterval <= 0 disables the background janitor.
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryStore{cache: cache.New(ttl, cleanupInterval)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (*chat.Session, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*chat.Session).Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, session *chat.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("save session: missing id")
	}
	s.cache.SetDefault(session.ID, session.Clone())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// RedisStore shares sessions between processes as JSON documents with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore parses a redis:// URL.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "camp-guide:session:", ttl: ttl}
}

// Client exposes the connection pool, shared with RedisLocker.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Load(ctx context.Context, key string) (*chat.Session, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	var session chat.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &session, nil
}

func (s *RedisStore) Save(ctx context.Context, session *chat.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("save session: missing id")
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if err := s.client.Set(ctx, s.prefix+session.ID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
