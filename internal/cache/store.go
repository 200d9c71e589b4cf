// Package cache memoizes expensive analysis results keyed by a fingerprint of the
// parameters that produced them.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned by Store.Get when the key is absent or expired.
	ErrMiss = errors.New("cache miss")
	// ErrUnavailable wraps any failure of the backing store. Callers degrade to
	// computing the value directly.
	ErrUnavailable = errors.New("cache unavailable")
)

// Store is a byte-oriented key/value store with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Generational stores keep a counter shared by everyone using the store. Memo
// folds it into every key and bumps it on invalidation, so a mailbox change
// made by one process retires the entries all processes computed.
type Generational interface {
	Generation(ctx context.Context) (int64, error)
	Bump(ctx context.Context) error
}
