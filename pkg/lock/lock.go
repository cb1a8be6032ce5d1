// Package lock provides a Redis-backed mutual exclusion primitive so
// that periodic maintenance jobs run on exactly one manager replica.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"starbench/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	lockTTL            = 30 * time.Second
	lockAcquireTimeout = 5 * time.Second
	lockRenewInterval  = 10 * time.Second
	maxHoldDuration    = 2 * time.Minute
)

// DistributedLock guards a critical section across manager replicas.
type DistributedLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisLock implements DistributedLock with SET NX plus owner-checked
// release and renewal. A nil client degrades to always-acquired, which
// is correct for single-instance deployments without Redis.
type RedisLock struct {
	client    *redis.Client
	key       string
	value     string // owner token, so one replica cannot release another's lock
	ttl       time.Duration
	held      bool
	acquired  time.Time
	stopRenew chan struct{}
	stopped   bool
	mu        sync.Mutex
}

func NewRedisLock(client *redis.Client, key string) *RedisLock {
	return &RedisLock{
		client:    client,
		key:       key,
		value:     fmt.Sprintf("%s-%d", key, time.Now().UnixNano()),
		ttl:       lockTTL,
		stopRenew: make(chan struct{}),
	}
}

func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "lock %s held by another instance", l.key)
		return false, nil
	}

	l.mu.Lock()
	l.held = true
	l.acquired = time.Now()
	// Fresh channel per acquisition so the lock survives repeated
	// TryLock/Unlock cycles.
	l.stopRenew = make(chan struct{})
	l.stopped = false
	l.mu.Unlock()

	go l.renew(ctx)
	return true, nil
}

func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	if l.client == nil {
		l.held = false
		l.mu.Unlock()
		return nil
	}
	if !l.stopped {
		l.stopped = true
		close(l.stopRenew)
	}
	l.mu.Unlock()

	// Delete only our own lock.
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	if _, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	return nil
}

func (l *RedisLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *RedisLock) renew(ctx context.Context) {
	ticker := time.NewTicker(lockRenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopRenew:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			held := time.Since(l.acquired)
			l.mu.Unlock()
			if held > maxHoldDuration {
				logger.WarnCtx(ctx, "lock %s held too long (%.0fs), dropping it", l.key, held.Seconds())
				l.markLost()
				return
			}

			script := `
				if redis.call("get", KEYS[1]) == ARGV[1] then
					return redis.call("expire", KEYS[1], ARGV[2])
				else
					return 0
				end
			`
			result, err := l.client.Eval(ctx, script, []string{l.key}, l.value, int(l.ttl.Seconds())).Result()
			if err != nil {
				logger.WarnCtx(ctx, "failed to renew lock %s: %v", l.key, err)
				l.markLost()
				return
			}
			if result.(int64) == 0 {
				logger.WarnCtx(ctx, "lock %s renewal failed, lock lost", l.key)
				l.markLost()
				return
			}
		}
	}
}

func (l *RedisLock) markLost() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}
