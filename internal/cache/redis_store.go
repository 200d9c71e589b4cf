package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// generationKey holds the shared invalidation counter.
const generationKey = keyPrefix + ":generation"

// RedisStore keeps cache entries in Redis with SETEX semantics.
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisStore(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, logger: logger}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		s.logger.Warn("Redis cache get failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("redis get %s: %w: %w", key, ErrUnavailable, err)
	}
	return b, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Warn("Redis cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set %s: %w: %w", key, ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Generation(ctx context.Context) (int64, error) {
	n, err := s.rdb.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w: %w", generationKey, ErrUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) Bump(ctx context.Context) error {
	if err := s.rdb.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("redis incr %s: %w: %w", generationKey, ErrUnavailable, err)
	}
	return nil
}
