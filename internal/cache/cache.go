// Package cache is the key-value store behind the permission cache. Each
// operation is atomic on its own; callers never rely on multi-key
// transactions.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"procgate/internal/config"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value; a zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed. It scans the keyspace; use reverse indexes for
	// targeted invalidation.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// IndexAdd records member in the set stored at index and resets the
	// set's expiry to ttl.
	IndexAdd(ctx context.Context, index, member string, ttl time.Duration) error
	IndexMembers(ctx context.Context, index string) ([]string, error)
}

// New builds the configured store. The Redis client is pinged once.
func New(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		if logger != nil {
			logger.Info("cache connected", "driver", "redis", "addr", cfg.RedisAddr)
		}
		return NewRedisStore(rdb, cfg.Prefix), nil
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
