package tokenstore

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/redis/go-redis/v9"
)

var _ Backend = (*RedisBackend)(nil)

// RedisBackend keeps each key as a single redis string. SET replaces the value
// in one command.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a Redis-backed store using the given key prefix
// (defaults to "artvinci:").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "artvinci:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisBackend) key(key string) string {
	return r.prefix + key
}

func (r *RedisBackend) Read(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisBackend Read] %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisBackend) Write(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("[RedisBackend Write] %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("[RedisBackend Delete] %s: %w", key, err)
	}
	return nil
}
