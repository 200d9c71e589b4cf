// Package undo keeps the pre-mutation state of trashed messages for the
// rollback window and restores it on request.
package undo

import (
	"context"
	"slices"
	"sync"
	"time"

	"mailsweep/internal/model"
)

// Store persists undo records keyed by message id. Put replaces an existing
// record for the same id.
type Store interface {
	Put(ctx context.Context, recs []model.UndoRecord) error
	Get(ctx context.Context, ids []string) (map[string]model.UndoRecord, error)
	Delete(ctx context.Context, ids []string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
	// CountSince counts records of messages trashed at or after since.
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// MemoryStore is a process-local Store for tests and demo mode.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]model.UndoRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]model.UndoRecord)}
}

func (s *MemoryStore) Put(_ context.Context, recs []model.UndoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		r.OriginalLabels = slices.Clone(r.OriginalLabels)
		s.recs[r.MessageID] = r
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, ids []string) (map[string]model.UndoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.UndoRecord, len(ids))
	for _, id := range ids {
		if r, ok := s.recs[id]; ok {
			r.OriginalLabels = slices.Clone(r.OriginalLabels)
			out[id] = r
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.recs, id)
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.recs {
		if r.Expired(now) {
			delete(s.recs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs), nil
}

func (s *MemoryStore) CountSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, r := range s.recs {
		if !r.DeletedAt.Before(since) {
			n++
		}
	}
	return n, nil
}
