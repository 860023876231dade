package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores values as plain string keys under a prefix.
type Redis struct {
	client redis.Cmdable
	closer io.Closer
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client. A zero ttl stores keys without expiry.
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	r := &Redis{client: client, prefix: prefix, ttl: ttl}
	if c, ok := client.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// DialRedis connects to cfg.Addr and pings it.
func DialRedis(ctx context.Context, cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, cfg.Prefix, cfg.TTL), nil
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
