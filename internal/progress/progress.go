// Package progress exposes the state of the currently running long operation.
//
// A Store is created once per process and handed to the components that run long
// operations; readers poll Current without ever waiting on a writer.
package progress

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mailsweep/internal/model"
)

// Reporter receives progress ticks from a running operation.
type Reporter interface {
	Update(percent int, message string)
}

// Nop discards every update.
var Nop Reporter = nopReporter{}

type nopReporter struct{}

func (nopReporter) Update(int, string) {}

// Store holds the snapshot of the running operation, if any.
type Store struct {
	current atomic.Pointer[model.OperationProgress]
	now     func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Begin starts tracking a new operation, replacing any previous snapshot.
func (s *Store) Begin(name string) *Op {
	p := &model.OperationProgress{
		ID:        uuid.NewString(),
		Operation: name,
		Message:   "starting",
		StartedAt: s.now(),
	}
	s.current.Store(p)
	return &Op{store: s, id: p.ID, name: name, started: p.StartedAt}
}

// Current returns a copy of the running operation's progress.
func (s *Store) Current() (model.OperationProgress, bool) {
	p := s.current.Load()
	if p == nil {
		return model.OperationProgress{}, false
	}
	out := *p
	out.Elapsed = s.now().Sub(out.StartedAt).Seconds()
	return out, true
}

// Op is the write handle of one tracked operation.
type Op struct {
	store   *Store
	id      string
	name    string
	started time.Time
	last    atomic.Int32
}

// ID returns the operation id, useful for log correlation.
func (o *Op) ID() string { return o.id }

// Update overwrites the snapshot. Percent is clamped to [0,100] and never moves
// backwards. Updates from an operation that has been superseded are dropped.
func (o *Op) Update(percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	for {
		prev := o.last.Load()
		if int32(percent) <= prev {
			percent = int(prev)
			break
		}
		if o.last.CompareAndSwap(prev, int32(percent)) {
			break
		}
	}
	for {
		cur := o.store.current.Load()
		if cur == nil || cur.ID != o.id {
			return
		}
		next := &model.OperationProgress{
			ID:        o.id,
			Operation: o.name,
			Percent:   percent,
			Message:   message,
			StartedAt: o.started,
		}
		if o.store.current.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Finish clears the snapshot if this operation is still the current one.
func (o *Op) Finish() {
	for {
		cur := o.store.current.Load()
		if cur == nil || cur.ID != o.id {
			return
		}
		if o.store.current.CompareAndSwap(cur, nil) {
			return
		}
	}
}

// Scaled maps 0–100 updates of a sub-step into the [from,to] range of a parent reporter.
func Scaled(parent Reporter, from, to int) Reporter {
	if parent == nil {
		return Nop
	}
	return scaled{parent: parent, from: from, to: to}
}

type scaled struct {
	parent   Reporter
	from, to int
}

func (s scaled) Update(percent int, message string) {
	s.parent.Update(s.from+(s.to-s.from)*percent/100, message)
}
