package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mailsweep/pkg/metrics"
)

// Memo runs a computation at most once per key at a time and caches its JSON
// encoding. Concurrent callers with the same key share one computation and get
// byte-identical results.
type Memo struct {
	store  Store
	group  singleflight.Group
	logger *zap.Logger
}

func NewMemo(store Store, logger *zap.Logger) *Memo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memo{store: store, logger: logger}
}

// Do returns the cached bytes for key, or runs compute, stores the JSON encoding
// of its result for ttl and returns it. A failing store never fails the call.
func (m *Memo) Do(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (any, error)) ([]byte, error) {
	op := opOf(key)
	if b, ok := m.lookup(ctx, op, key); ok {
		return b, nil
	}

	v, err, shared := m.group.Do(key, func() (any, error) {
		// a caller that lost the race may find the winner's value already stored
		if b, ok := m.lookup(ctx, op, key); ok {
			return b, nil
		}
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", op, err)
		}
		if m.store != nil {
			if err := m.store.Set(ctx, key, b, ttl); err != nil {
				m.logger.Warn("Cache write skipped", zap.String("key", key), zap.Error(err))
			}
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("Shared in-flight computation", zap.String("key", key))
	}
	return v.([]byte), nil
}

// DoInto is Do followed by decoding the bytes into out.
func (m *Memo) DoInto(ctx context.Context, key string, ttl time.Duration, out any, compute func(ctx context.Context) (any, error)) ([]byte, error) {
	b, err := m.Do(ctx, key, ttl, compute)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("decode cached %s: %w", opOf(key), err)
	}
	return b, nil
}

// Key is the package Key with the store's generation folded in. Keys built
// before the last Invalidate, here or in another process, no longer match.
func (m *Memo) Key(ctx context.Context, op string, params any) (string, error) {
	var gen int64
	if g, ok := m.store.(Generational); ok {
		n, err := g.Generation(ctx)
		if err != nil {
			m.logger.Warn("Cache generation unavailable", zap.Error(err))
		}
		gen = n
	}
	return Key(op, struct {
		Generation int64 `json:"generation"`
		Params     any   `json:"params"`
	}{gen, params})
}

// Invalidate drops keys and retires every entry keyed under the current
// generation; store failures are logged only.
func (m *Memo) Invalidate(ctx context.Context, keys ...string) {
	if m.store == nil {
		return
	}
	for _, k := range keys {
		m.group.Forget(k)
	}
	if len(keys) > 0 {
		if err := m.store.Delete(ctx, keys...); err != nil {
			m.logger.Warn("Cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
		}
	}
	if g, ok := m.store.(Generational); ok {
		if err := g.Bump(ctx); err != nil {
			m.logger.Warn("Cache generation not bumped", zap.Error(err))
		}
	}
}

func (m *Memo) lookup(ctx context.Context, op, key string) ([]byte, bool) {
	if m.store == nil {
		return nil, false
	}
	b, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		metrics.IncrementCacheLookup(op, "hit")
		return b, true
	case errors.Is(err, ErrMiss):
		metrics.IncrementCacheLookup(op, "miss")
	default:
		metrics.IncrementCacheLookup(op, "unavailable")
		m.logger.Warn("Cache unavailable, computing directly", zap.String("key", key), zap.Error(err))
	}
	return nil, false
}

// opOf extracts the op segment from "mailsweep:<op>:<hash>".
func opOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) == 3 {
		return parts[1]
	}
	return "unknown"
}
