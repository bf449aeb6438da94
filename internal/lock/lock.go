// Package lock serializes onboarding triggers per merchant.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultRetryWait = 50 * time.Millisecond
	keyPrefix        = "onboarding:lock:"
)

// ErrNotAcquired is returned when the lock stays held until ctx ends.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive per-key locks.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func
	// releases the lock.
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

// redisStore defines the operations used by RedisLocker.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	// DeleteIfEquals removes key only while it still holds value, as one
	// atomic operation.
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
}

// RedisLocker implements Locker using Redis SETNX + TTL, so a crashed holder
// frees the key after ttl.
type RedisLocker struct {
	client    redisStore
	ttl       time.Duration
	retryWait time.Duration
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(client redisStore, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl, retryWait: defaultRetryWait}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	redisKey := keyPrefix + key
	owner := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, owner, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("setnx: %w", err)
		}
		if ok {
			return func(ctx context.Context) error { return l.release(ctx, redisKey, owner) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-time.After(l.retryWait):
		}
	}
}

// release frees the lock only if the owner value still matches.
func (l *RedisLocker) release(ctx context.Context, redisKey, owner string) error {
	if _, err := l.client.DeleteIfEquals(ctx, redisKey, owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// compareAndDelete runs GET and DEL server side so an expired lock taken by
// another owner is never removed.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClient adapts *redis.Client to the narrow store RedisLocker needs.
type RedisClient struct {
	*redis.Client
}

var _ redisStore = RedisClient{}

func (c RedisClient) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.Client.SetNX(ctx, key, value, ttl).Result()
}

func (c RedisClient) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, c.Client, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]chan struct{}{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-wait:
		}
	}
}
