package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld 锁已被其他请求持有
var ErrLockHeld = errors.New("lock is held by another request")

// Locker 按 key 互斥，拿不到锁立即返回 ErrLockHeld
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RedisLocker 多实例部署时使用的 redsync 分布式锁
type RedisLocker struct {
	rs *redsync.Redsync
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	pool := goredis.NewPool(rdb)
	return &RedisLocker{rs: redsync.New(pool)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m := l.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1), // 只尝试一次,失败说明正在处理
	)
	if err := m.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("obtain lock %s: %w", key, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrLockHeld, err)
	}
	return func() {
		if _, err := m.UnlockContext(context.Background()); err != nil {
			slog.Warn("release lock failed", "key", key, "error", err)
		}
	}, nil
}

// LocalLocker 单实例和测试使用的进程内锁
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) Obtain(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.held[key]; ok && time.Now().Before(exp) {
		return nil, ErrLockHeld
	}
	l.held[key] = time.Now().Add(ttl)
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}
