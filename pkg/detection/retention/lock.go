package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Locker.TryLock when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another holder")

// Locker grants exclusive, expiring locks by name.
type Locker interface {
	// TryLock acquires name without waiting. It returns ErrLockHeld when the
	// lock is taken. The returned function releases the lock.
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// RedisLocker implements Locker with redsync on a Redis deployment, so that
// only one replica runs a scheduled sweep at a time.
type RedisLocker struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
}

// NewRedisLocker connects to Redis at addr and verifies the connection.
func NewRedisLocker(ctx context.Context, addr, password string, db int) (*RedisLocker, error) {
	if addr == "" {
		return nil, errors.New("redis address must be provided")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisLockerFromClient(client), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
	}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	mutex := l.rs.NewMutex(name, redsync.WithExpiry(ttl), redsync.WithTries(1))

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}

	return func(ctx context.Context) error {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			return fmt.Errorf("failed to release lock %q: %w", name, err)
		}
		return nil
	}, nil
}

// Ping checks the Redis connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// LocalLocker implements Locker within a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewLocalLocker creates a process-local locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// TryLock implements Locker. Expired locks are taken over.
func (l *LocalLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.locks[name]; ok && now.Before(expires) {
		return nil, ErrLockHeld
	}

	expires := now.Add(ttl)
	l.locks[name] = expires

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.locks[name].Equal(expires) {
			delete(l.locks, name)
		}
		return nil
	}, nil
}
