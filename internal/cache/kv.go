// Package cache mirrors tracker snapshots into a key/value store so other
// viewers can read them without a channel connection.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss the document does not exist or has expired
var ErrCacheMiss = errors.New("cache miss")

// Store holds mirrored snapshot documents by key.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	// SaveAll writes every document with the same ttl. Readers see either
	// all of them or none of them.
	SaveAll(ctx context.Context, docs map[string][]byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisStore Store on a redis server; SaveAll runs in MULTI/EXEC
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return data, err
}

func (r *RedisStore) SaveAll(ctx context.Context, docs map[string][]byte, ttl time.Duration) error {
	if len(docs) == 0 {
		return nil
	}
	if ttl < 0 {
		ttl = 0
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, data := range docs {
			pipe.Set(ctx, key, data, ttl)
		}
		return nil
	})
	return err
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
