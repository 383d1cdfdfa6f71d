package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is the production RemoteTier, namespacing all keys under a
// configured prefix so one Redis instance can serve multiple environments.
type RedisTier struct {
	client    *redis.Client
	namespace string
}

// NewRedisTier opens a connection to redisURL (a redis:// DSN). namespace is
// prefixed to every key, e.g. "newsfeed:".
func NewRedisTier(redisURL, namespace string) (*RedisTier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisTier{client: redis.NewClient(opts), namespace: namespace}, nil
}

func (r *RedisTier) key(k string) string {
	return r.namespace + k
}

func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisTier) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *RedisTier) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.key(pattern), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *RedisTier) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, r.key(key)).Result()
	if err != nil {
		return -1 * time.Second, err
	}
	if d < 0 {
		return -1 * time.Second, nil
	}
	return d, nil
}

// Close releases the underlying connection pool.
func (r *RedisTier) Close() error {
	return r.client.Close()
}

// Ping checks connectivity, used at startup to decide whether to run in
// memory-only degraded mode (entity.ErrCacheUnavailable).
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
