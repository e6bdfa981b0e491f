package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.trai.ch/zerr"
)

// RedisBackend persists records in Redis so that every process pointed at
// the same database shares one cache, the way browser tabs share an origin's
// storage. No cross-process locking is done: the last writer wins.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBackend creates a Redis-backed persistent layer. Keys are stored
// under prefix (e.g. "edgecache:").
func NewRedisBackend(addr, password string, db int, prefix string) *RedisBackend {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

// Get returns (nil, false, nil) on a miss. Connection errors are returned so
// the Store can log them before treating the read as a miss.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, zerr.With(zerr.Wrap(err, "redis get failed"), "key", key)
	}
	return val, true, nil
}

// Set stores val without a Redis TTL; staleness is judged from the record.
func (r *RedisBackend) Set(ctx context.Context, key string, val []byte) error {
	if err := r.rdb.Set(ctx, r.prefix+key, val, 0).Err(); err != nil {
		return zerr.With(zerr.Wrap(err, "redis set failed"), "key", key)
	}
	return nil
}

// Delete removes key.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return zerr.With(zerr.Wrap(err, "redis delete failed"), "key", key)
	}
	return nil
}

// Probe checks the Redis connection.
func (r *RedisBackend) Probe(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}
