// Package cache provides the Redis client used for webhook replay guards and
// the master-wallet debit lock.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sendramp/ramp-service/internal/infrastructure/config"
)

// RedisClient defines the cache operations used by the settlement core.
type RedisClient interface {
	// SetNX sets key to value only if it does not exist. Returns true when
	// the key was set, false when it already existed.
	SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

type redisClient struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient creates a new Redis client and verifies connectivity.
func NewRedisClient(cfg *config.RedisConfig, logger *zap.Logger) (RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))

	return &redisClient{client: rdb, logger: logger}, nil
}

func (r *redisClient) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, expiration).Result()
}

func (r *redisClient) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisClient) Close() error {
	return r.client.Close()
}

// Locker provides short-TTL mutual exclusion over Redis. It is used to
// serialize master-wallet gas debits and distribution-trigger invocations
// racing on the same transaction id.
type Locker struct {
	client RedisClient
}

// NewLocker creates a locker over the given Redis client.
func NewLocker(client RedisClient) *Locker {
	return &Locker{client: client}
}

// Acquire attempts to take the lock, retrying until the wait budget is spent
// or the context is cancelled. Returns false if the lock was not obtained.
func (l *Locker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.client.SetNX(ctx, key, "1", ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Release releases the lock.
func (l *Locker) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, key)
}
