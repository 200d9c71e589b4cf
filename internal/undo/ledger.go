package undo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailsweep/internal/mailapi"
	"mailsweep/internal/model"
	"mailsweep/pkg/metrics"
)

// DefaultWindow is the logical rollback window. The remote trash keeps messages
// longer; that retention is outside our control.
const DefaultWindow = 24 * time.Hour

// Remote is the slice of the mail client restore needs.
type Remote interface {
	FetchBatch(ctx context.Context, ids []string) ([]model.MessageSummary, map[string]error, error)
	MutateBatch(ctx context.Context, ids []string, m mailapi.Mutation) (mailapi.Outcomes, error)
}

var _ Remote = (*mailapi.Client)(nil)

// RestoreResult is the outcome of a restore call. An id is in exactly one of the three.
type RestoreResult struct {
	Restored []string         `json:"restored"`
	NotFound []string         `json:"not_found"`
	Failed   map[string]error `json:"-"`
}

// Errors renders Failed for transport.
func (r RestoreResult) Errors() map[string]string {
	out := make(map[string]string, len(r.Failed))
	for id, err := range r.Failed {
		out[id] = err.Error()
	}
	return out
}

// Ledger records trashed messages and restores them. Record and Restore trigger
// a background purge of expired records at most once per purge interval; the
// purge never runs on the caller's goroutine.
type Ledger struct {
	store  Store
	remote Remote
	window time.Duration
	logger *zap.Logger
	now    func() time.Time

	purgeEvery time.Duration
	lastPurge  atomic.Int64
	purging    atomic.Bool
	bg         sync.WaitGroup
}

func NewLedger(store Store, remote Remote, window time.Duration, logger *zap.Logger) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:      store,
		remote:     remote,
		window:     window,
		logger:     logger,
		now:        time.Now,
		purgeEvery: time.Minute,
	}
}

func (l *Ledger) Window() time.Duration { return l.window }

// Record stores recs, filling DeletedAt and ExpiresAt when unset.
func (l *Ledger) Record(ctx context.Context, recs ...model.UndoRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := l.now()
	for i := range recs {
		if recs[i].DeletedAt.IsZero() {
			recs[i].DeletedAt = now
		}
		if recs[i].ExpiresAt.IsZero() {
			recs[i].ExpiresAt = recs[i].DeletedAt.Add(l.window)
		}
	}
	if err := l.store.Put(ctx, recs); err != nil {
		return fmt.Errorf("record %d undo entries: %w", len(recs), err)
	}
	l.maybePurge()
	return nil
}

// Restore puts the recorded labels back on ids and drops their records. Ids
// without an active record are reported as not found; expired records count as
// not found and are removed.
func (l *Ledger) Restore(ctx context.Context, ids []string) (RestoreResult, error) {
	res := RestoreResult{Restored: []string{}, NotFound: []string{}, Failed: map[string]error{}}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return res, nil
	}
	l.maybePurge()

	recs, err := l.store.Get(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("load undo records: %w", err)
	}
	now := l.now()
	var active, expired []string
	for _, id := range ids {
		r, ok := recs[id]
		switch {
		case !ok:
			res.NotFound = append(res.NotFound, id)
		case r.Expired(now):
			res.NotFound = append(res.NotFound, id)
			expired = append(expired, id)
		default:
			active = append(active, id)
		}
	}
	if len(expired) > 0 {
		if err := l.store.Delete(ctx, expired); err != nil {
			l.logger.Warn("Failed to drop expired undo records", zap.Int("count", len(expired)), zap.Error(err))
		}
	}

	for _, batch := range mailapi.Chunk(active, mailapi.MaxBatchSize) {
		if err := l.restoreBatch(ctx, batch, recs, &res); err != nil {
			return res, err
		}
	}

	l.logger.Info("Restore finished",
		zap.Int("restored", len(res.Restored)),
		zap.Int("not_found", len(res.NotFound)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

func (l *Ledger) restoreBatch(ctx context.Context, ids []string, recs map[string]model.UndoRecord, res *RestoreResult) error {
	current, fetchFailed, err := l.remote.FetchBatch(ctx, ids)
	if err != nil {
		if mailapi.IsAuthExpired(err) || ctx.Err() != nil {
			return err
		}
		for _, id := range ids {
			res.Failed[id] = err
		}
		return nil
	}
	for id, e := range fetchFailed {
		res.Failed[id] = e
	}

	// messages needing the same label change go in one call
	groups := make(map[string][]string)
	diffs := make(map[string]mailapi.Mutation)
	var done []string
	for _, msg := range current {
		rec, ok := recs[msg.ID]
		if !ok {
			continue
		}
		add, remove := LabelDiff(msg.Labels, rec.OriginalLabels)
		if len(add) == 0 && len(remove) == 0 {
			done = append(done, msg.ID)
			continue
		}
		key := strings.Join(add, ",") + "|" + strings.Join(remove, ",")
		groups[key] = append(groups[key], msg.ID)
		diffs[key] = mailapi.Modify(add, remove)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var abort error
	for _, k := range keys {
		out, err := l.remote.MutateBatch(ctx, groups[k], diffs[k])
		for id, e := range out {
			if e == nil {
				done = append(done, id)
			} else {
				res.Failed[id] = e
			}
		}
		if err != nil {
			abort = err
			break
		}
	}

	if len(done) > 0 {
		sort.Strings(done)
		// the labels are back; a stale record is harmless since restoring again is a no-op
		if err := l.store.Delete(context.WithoutCancel(ctx), done); err != nil {
			l.logger.Warn("Failed to drop restored undo records", zap.Int("count", len(done)), zap.Error(err))
		}
		res.Restored = append(res.Restored, done...)
	}
	return abort
}

// LabelDiff returns the labels to add and remove to turn current into want.
func LabelDiff(current, want []string) (add, remove []string) {
	for _, l := range want {
		if !slices.Contains(current, l) {
			add = append(add, l)
		}
	}
	for _, l := range current {
		if !slices.Contains(want, l) {
			remove = append(remove, l)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}

// PurgeExpired removes every record whose window closed at or before now.
func (l *Ledger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := l.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired undo records: %w", err)
	}
	l.lastPurge.Store(now.UnixNano())
	if n > 0 {
		metrics.AddUndoPurged(int(n))
		l.logger.Info("Purged expired undo records", zap.Int64("count", n))
	}
	return n, nil
}

// Count returns the number of stored records, expired or not.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	return l.store.Count(ctx)
}

// CountSince counts messages trashed at or after since that are still
// restorable; restored and purged records are gone.
func (l *Ledger) CountSince(ctx context.Context, since time.Time) (int, error) {
	return l.store.CountSince(ctx, since)
}

func (l *Ledger) maybePurge() {
	if time.Duration(l.now().UnixNano()-l.lastPurge.Load()) < l.purgeEvery {
		return
	}
	if !l.purging.CompareAndSwap(false, true) {
		return
	}
	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		defer l.purging.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := l.PurgeExpired(ctx, l.now()); err != nil {
			l.logger.Warn("Lazy undo purge failed", zap.Error(err))
		}
	}()
}

// Wait blocks until background purges have finished.
func (l *Ledger) Wait() { l.bg.Wait() }

// RunSweeper purges on every tick until ctx is done.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := l.PurgeExpired(ctx, l.now()); err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Error("Undo sweep failed", zap.Error(err))
			}
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
