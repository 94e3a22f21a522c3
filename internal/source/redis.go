// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache shared between experiments and runs. Keys are
// namespaced as <prefix>:doc:<file uuid>.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis. A zero ttl keeps documents forever.
func NewRedisCache(opts *redis.Options, prefix string, ttl time.Duration) (*RedisCache, error) {
	if prefix == "" {
		return nil, fmt.Errorf("cache prefix cannot be empty")
	}
	return &RedisCache{rdb: redis.NewClient(opts), prefix: prefix, ttl: ttl}, nil
}

// Key returns the Redis key of a document.
func (r *RedisCache) Key(fileUUID string) string {
	return r.prefix + ":doc:" + fileUUID
}

// Ping verifies Redis connectivity.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, r.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s from Redis: %w", key, err)
	}
	return data, true, nil
}

func (r *RedisCache) Put(ctx context.Context, key string, data []byte) error {
	if err := r.rdb.Set(ctx, r.Key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s to Redis: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.rdb.Close()
}
