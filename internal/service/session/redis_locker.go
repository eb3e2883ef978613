package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有持有者的 token 才能续期或删除锁，过期后被别人拿到的锁不会被误删。
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLockerOptions tune the distributed lease.
type RedisLockerOptions struct {
	// TTL bounds how long a crashed holder blocks the key. Live holders keep extending it.
	TTL time.Duration
	// RetryInterval is the poll interval while another process holds the key.
	RetryInterval time.Duration
}

// RedisLocker serializes turns for one key across processes sharing a RedisStore. Waiters in
// the same process queue on a local KeyLocker first so only one of them polls Redis.
type RedisLocker struct {
	client *redis.Client
	local  *KeyLocker
	prefix string
	opts   RedisLockerOptions
	logger *zap.Logger
}

// NewRedisLocker wraps the client used by the store.
func NewRedisLocker(client *redis.Client, opts RedisLockerOptions, logger *zap.Logger) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 25 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		local:  NewKeyLocker(),
		prefix: "camp-guide:lock:",
		opts:   opts,
		logger: logger.Named("session-lock"),
	}
}

// Lock blocks until the key is free in every process or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	lockKey := l.prefix + key
	token := uuid.NewString()
	if err := l.acquire(ctx, lockKey, token); err != nil {
		unlockLocal()
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lockKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err(); err != nil {
				// 释放失败时锁会在 TTL 后自然过期
				l.logger.Warn("release session lock", zap.String("key", key), zap.Error(err))
			}
			unlockLocal()
		})
	}, nil
}

func (l *RedisLocker) acquire(ctx context.Context, lockKey, token string) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		ok, err := l.client.SetNX(ctx, lockKey, token, l.opts.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			return nil
		}
		timer.Reset(l.opts.RetryInterval)
	}
}

// keepAlive extends the lease while the turn runs, so slow model calls do not let it lapse.
func (l *RedisLocker) keepAlive(lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.opts.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.opts.TTL/3)
			n, err := refreshScript.Run(ctx, l.client, []string{lockKey}, token, l.opts.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("refresh session lock", zap.String("key", lockKey), zap.Error(err))
				continue
			}
			if n == 0 {
				l.logger.Error("session lock lost", zap.String("key", lockKey))
				return
			}
		}
	}
}
