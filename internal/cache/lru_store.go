package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// LRUStore is an in-process Store used when no Redis is configured and in tests.
// The LRU's own TTL is the upper bound; shorter per-entry TTLs are checked on read.
type LRUStore struct {
	lru *expirable.LRU[string, lruEntry]
	gen atomic.Int64
	now func() time.Time
}

func NewLRUStore(size int, maxTTL time.Duration) *LRUStore {
	if size <= 0 {
		size = 256
	}
	return &LRUStore{
		lru: expirable.NewLRU[string, lruEntry](size, nil, maxTTL),
		now: time.Now,
	}
}

func (s *LRUStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.lru.Remove(key)
		return nil, ErrMiss
	}
	return e.value, nil
}

func (s *LRUStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := lruEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.lru.Add(key, e)
	return nil
}

func (s *LRUStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.lru.Remove(k)
	}
	return nil
}

func (s *LRUStore) Generation(context.Context) (int64, error) { return s.gen.Load(), nil }

func (s *LRUStore) Bump(context.Context) error {
	s.gen.Add(1)
	return nil
}

// Len reports the number of live entries.
func (s *LRUStore) Len() int { return s.lru.Len() }
