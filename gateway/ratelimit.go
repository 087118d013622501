// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter answers whether an agent may place another call right now.
type RateLimiter interface {
	Allow(ctx context.Context, agentID string) (bool, error)
}

// RedisRateLimiter implements a sliding-window rate limit over a Redis
// sorted set per agent. Redis being down fails open: availability of the
// gateway wins over strict enforcement.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisRateLimiter connects to Redis at addr and enforces limit calls
// per window per agent.
func NewRedisRateLimiter(addr, password string, limit int, window time.Duration) *RedisRateLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &RedisRateLimiter{client: client, limit: limit, window: window}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, agentID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:agent:%s", agentID)
	now := time.Now()
	windowStart := now.Add(-r.window)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, r.window)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Rate limit check failed, allowing request: %v", err)
		return true, nil
	}

	return countCmd.Val() < int64(r.limit), nil
}

// Close releases the underlying Redis connection pool.
func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}

// MemoryRateLimiter is the fallback limiter used when no Redis address is
// configured. It keeps per-agent timestamps in memory, so limits apply
// per gateway instance rather than across the fleet.
type MemoryRateLimiter struct {
	mu     sync.Mutex
	calls  map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		calls:  make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (m *MemoryRateLimiter) Allow(_ context.Context, agentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)

	kept := m.calls[agentID][:0]
	for _, ts := range m.calls[agentID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= m.limit {
		m.calls[agentID] = kept
		return false, nil
	}

	m.calls[agentID] = append(kept, now)
	return true, nil
}
