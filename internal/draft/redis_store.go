package draft

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/config"
)

// NewRedisStore returns a Store backed by Redis, for kiosk setups where the
// exam runner keeps drafts in a sidecar instance. ttl bounds how long an
// abandoned draft lingers; zero keeps drafts until cleared.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Store {
	return newStore("redis", &redisBackend{rdb: rdb, ttl: ttl}, config.CacheKey.DraftRedisKey, log)
}

type redisBackend struct {
	rdb *redis.Client
	ttl time.Duration
}

func (b *redisBackend) get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNotFound
	}
	return v, err
}

func (b *redisBackend) put(ctx context.Context, key string, value []byte) error {
	return b.rdb.Set(ctx, key, value, b.ttl).Err()
}

func (b *redisBackend) del(ctx context.Context, key string) error {
	n, err := b.rdb.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNotFound
	}
	return nil
}
