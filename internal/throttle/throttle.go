// Package throttle limits how often a keyed notification may be repeated.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"groupdirectory_bot/internal/logging"
)

const redisKeyPrefix = "group_directory:throttle:"

// Limiter grants at most one permit per key within a cooldown window.
type Limiter interface {
	// Allow reports whether the caller may act for key now. A granted permit
	// blocks further permits for key until cooldown elapses.
	Allow(ctx context.Context, key string, cooldown time.Duration) (bool, error)
	// Reset forgets any permit held for key.
	Reset(ctx context.Context, key string) error
}

// MemoryLimiter keeps permits in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	permits map[string]time.Time
	now     func() time.Time
}

// NewMemoryLimiter constructs an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		permits: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, cooldown time.Duration) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, errors.New("throttle key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.permits[key]; ok && now.Before(until) {
		return false, nil
	}

	l.permits[key] = now.Add(cooldown)
	l.prune(now)
	return true, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.permits, key)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLimiter) prune(now time.Time) {
	for key, until := range l.permits {
		if !now.Before(until) {
			delete(l.permits, key)
		}
	}
}

// RedisLimiter keeps permits in Redis so restarts and replicas share them.
// Each permit is a key written with SET NX and an expiry of the cooldown.
type RedisLimiter struct {
	client   *redis.Client
	logger   *logrus.Entry
	failOpen bool
}

// NewRedisLimiter constructs a RedisLimiter. With failOpen set, Redis errors
// grant the permit instead of failing the call.
func NewRedisLimiter(client *redis.Client, logger *logrus.Entry, failOpen bool) *RedisLimiter {
	if logger == nil {
		logger = logging.Logger()
	}

	return &RedisLimiter{
		client:   client,
		logger:   logger,
		failOpen: failOpen,
	}
}

// NewRedisClient parses url and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, errors.New("throttle key is required")
	}
	if l == nil || l.client == nil {
		return false, errors.New("redis limiter is not initialized")
	}

	ok, err := l.client.SetNX(ctx, redisKeyPrefix+key, time.Now().Unix(), cooldown).Result()
	if err != nil {
		if l.failOpen {
			l.logger.WithFields(logging.Fields{
				"event": "throttle_fail_open",
				"key":   key,
			}).WithError(err).Warn("redis throttle unavailable, allowing")
			return true, nil
		}
		return false, fmt.Errorf("throttle %s: %w", key, err)
	}

	return ok, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return errors.New("redis limiter is not initialized")
	}

	if err := l.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset throttle %s: %w", key, err)
	}
	return nil
}
