package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 用 Redis SetNX 保证同一个 key 在 ttl 内只被一个进程持有，
// 例如同一条规则不会被两个调度器同时执行。
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func lockKey(key string) string { return "mailsweep:lock:" + key }

// AcquireOnce returns true if the caller now holds key, false if another
// holder has it.
func (d *Deduper) AcquireOnce(ctx context.Context, key string) bool {
	ok, err := d.rdb.SetNX(ctx, lockKey(key), 1, d.ttl).Result()
	if err != nil {
		// Redis 挂了？当 redis 不可用时，不阻止执行
		d.logger.Warn("Redis lock check failed, allowing run",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped, already held elsewhere", zap.String("key", key))
	}
	return ok
}

// Release drops key early so the next run does not wait for the ttl.
func (d *Deduper) Release(ctx context.Context, key string) {
	if err := d.rdb.Del(ctx, lockKey(key)).Err(); err != nil {
		d.logger.Warn("Redis lock release failed", zap.String("key", key), zap.Error(err))
	}
}
