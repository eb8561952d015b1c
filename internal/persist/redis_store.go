package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgredis "github.com/angelmondragon/cartsync/pkg/redis"
)

type redisKV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SnapshotKey(name string) string
}

// RedisStore keeps snapshots in redis under the snapshot namespace. It has no
// Watch; instances using it converge through the sync channel instead.
type RedisStore struct {
	client redisKV
}

func NewRedisStore(client redisKV) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.client.SnapshotKey(key))
	if err != nil {
		if errors.Is(err, pkgredis.ErrNil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.client.SnapshotKey(key), value, ttl); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.client.SnapshotKey(key)); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
