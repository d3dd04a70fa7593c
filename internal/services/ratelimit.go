package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore 固定窗口计数器
type CounterStore interface {
	// Incr 返回 key 在当前窗口内的计数（含本次）
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RedisCounterStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCounterStore(rdb *redis.Client, prefix string) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb, prefix: prefix}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := s.prefix + key
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr counter %s: %w", k, err)
	}
	return incr.Val(), nil
}

type memoryCounter struct {
	count   int64
	resetAt time.Time
}

// MemoryCounterStore 没有 redis 时的进程内实现
type MemoryCounterStore struct {
	mu        sync.Mutex
	counters  map[string]*memoryCounter
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]*memoryCounter), now: time.Now}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	// 每个窗口清理一次过期计数，避免 key 无限增长
	if now.Sub(s.lastSweep) >= window {
		for k, c := range s.counters {
			if !now.Before(c.resetAt) {
				delete(s.counters, k)
			}
		}
		s.lastSweep = now
	}
	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &memoryCounter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}
