// Package executor trashes planned messages in batches and records an undo
// entry for every success before reporting it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailsweep/internal/mailapi"
	"mailsweep/internal/model"
	"mailsweep/internal/progress"
	"mailsweep/internal/undo"
)

// ErrUndoNotRecorded marks ids that were trashed remotely but whose undo entry
// could not be written. They are reported as failures, never as successes.
var ErrUndoNotRecorded = errors.New("trashed but undo record not written")

// ErrOutcomeUnknown marks ids whose trash call was cut off by auth expiry. Some
// of them may be in the trash already; each still gets an undo record.
var ErrOutcomeUnknown = errors.New("trash cut off, outcome unknown")

// Guard reports whether a message, as just fetched, may still be trashed.
type Guard func(model.MessageSummary) bool

// Remote is the slice of the mail client the executor needs.
type Remote interface {
	FetchBatch(ctx context.Context, ids []string) ([]model.MessageSummary, map[string]error, error)
	MutateBatch(ctx context.Context, ids []string, m mailapi.Mutation) (mailapi.Outcomes, error)
}

// Recorder persists undo entries.
type Recorder interface {
	Record(ctx context.Context, recs ...model.UndoRecord) error
}

var (
	_ Remote   = (*mailapi.Client)(nil)
	_ Recorder = (*undo.Ledger)(nil)
)

type Config struct {
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`
}

func DefaultConfig() Config {
	return Config{Workers: 4, BatchSize: mailapi.MaxBatchSize}
}

// Result is the per-id outcome of one Execute call. Every requested id ends up
// in exactly one of Succeeded, Failed, Skipped, Excluded (or Planned for a dry
// run). Excluded holds ids the guard turned down after the fetch.
type Result struct {
	DryRun    bool             `json:"dry_run"`
	Requested int              `json:"requested"`
	Planned   []string         `json:"planned,omitempty"`
	Succeeded []string         `json:"succeeded"`
	Failed    map[string]error `json:"-"`
	Skipped   []string         `json:"skipped,omitempty"`
	Excluded  []string         `json:"excluded,omitempty"`
	Batches   int              `json:"batches"`
	Duration  time.Duration    `json:"duration"`
}

// Count is the number of messages trashed, or that would be for a dry run.
func (r *Result) Count() int {
	if r.DryRun {
		return len(r.Planned)
	}
	return len(r.Succeeded)
}

// FailedIDs returns the failed ids sorted.
func (r *Result) FailedIDs() []string {
	out := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Errors renders Failed for transport.
func (r *Result) Errors() map[string]string {
	out := make(map[string]string, len(r.Failed))
	for id, err := range r.Failed {
		out[id] = err.Error()
	}
	return out
}

type Executor struct {
	remote   Remote
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
}

func New(remote Remote, recorder Recorder, cfg Config, logger *zap.Logger) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > mailapi.MaxBatchSize {
		cfg.BatchSize = mailapi.MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{remote: remote, recorder: recorder, cfg: cfg, logger: logger}
}

// Execute trashes ids. A dry run touches nothing and only echoes the de-duplicated
// ids. Per-id failures never abort the call. Cancelling ctx stops new batches;
// batches already running finish both the mutation and the undo write. Auth
// expiry also stops new batches and is returned alongside the partial result;
// ids of the batch it cut off fail with ErrOutcomeUnknown but keep an undo
// record, so restoring them is safe either way.
func (e *Executor) Execute(ctx context.Context, ids []string, dryRun bool, reporter progress.Reporter) (*Result, error) {
	return e.ExecuteGuarded(ctx, ids, dryRun, nil, reporter)
}

// ExecuteGuarded is Execute with guard applied to every message once its
// current labels are fetched; messages it rejects land in Excluded untouched.
// A nil guard accepts everything. Dry runs never fetch, so never consult it.
func (e *Executor) ExecuteGuarded(ctx context.Context, ids []string, dryRun bool, guard Guard, reporter progress.Reporter) (*Result, error) {
	if reporter == nil {
		reporter = progress.Nop
	}
	start := time.Now()
	ids = dedupe(ids)
	res := &Result{
		DryRun:    dryRun,
		Requested: len(ids),
		Succeeded: []string{},
		Failed:    map[string]error{},
	}
	if dryRun {
		res.Planned = ids
		reporter.Update(100, fmt.Sprintf("dry run: %d messages would be trashed", len(ids)))
		return res, nil
	}

	batches := mailapi.Chunk(ids, e.cfg.BatchSize)
	res.Batches = len(batches)
	total := len(batches)

	var (
		mu      sync.Mutex
		done    atomic.Int64
		abort   atomic.Pointer[error]
		stopped = func() bool { return ctx.Err() != nil || abort.Load() != nil }
	)
	skip := func(b []string) {
		mu.Lock()
		res.Skipped = append(res.Skipped, b...)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for i, b := range batches {
		if stopped() {
			for _, rest := range batches[i:] {
				skip(rest)
			}
			break
		}
		g.Go(func() error {
			// re-checked after the slot is acquired
			if stopped() {
				skip(b)
				return nil
			}
			out, held, err := e.runBatch(context.WithoutCancel(ctx), b, guard)
			if err != nil && mailapi.IsAuthExpired(err) {
				abort.CompareAndSwap(nil, &err)
			}
			mu.Lock()
			res.Excluded = append(res.Excluded, held...)
			for id, oerr := range out {
				if oerr == nil {
					res.Succeeded = append(res.Succeeded, id)
				} else {
					res.Failed[id] = oerr
				}
			}
			mu.Unlock()
			n := done.Add(1)
			reporter.Update(int(100*n/int64(total)), fmt.Sprintf("batch %d/%d", n, total))
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Succeeded)
	sort.Strings(res.Skipped)
	sort.Strings(res.Excluded)
	res.Duration = time.Since(start)
	e.logger.Info("Cleanup executed",
		zap.Int("requested", res.Requested),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("excluded", len(res.Excluded)),
		zap.Duration("took", res.Duration),
	)

	if p := abort.Load(); p != nil {
		return res, *p
	}
	if err := ctx.Err(); err != nil && len(res.Skipped) > 0 {
		return res, err
	}
	return res, nil
}

// runBatch fetches labels, trashes and records one batch. The returned outcome
// covers every id of the batch except the ones guard held back.
func (e *Executor) runBatch(ctx context.Context, ids []string, guard Guard) (mailapi.Outcomes, []string, error) {
	out := make(mailapi.Outcomes, len(ids))

	msgs, fetchFailed, err := e.remote.FetchBatch(ctx, ids)
	if err != nil {
		for _, id := range ids {
			out[id] = err
		}
		return out, nil, err
	}
	// without the current labels there is nothing to restore to; leave those alone
	for id, ferr := range fetchFailed {
		out[id] = ferr
	}

	var held []string
	byID := make(map[string]model.MessageSummary, len(msgs))
	targets := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if guard != nil && !guard(m) {
			held = append(held, m.ID)
			continue
		}
		byID[m.ID] = m
		targets = append(targets, m.ID)
	}
	if len(held) > 0 {
		e.logger.Info("Messages changed since planning, left alone", zap.Int("count", len(held)))
	}
	if len(targets) == 0 {
		return out, held, nil
	}

	mutated, mErr := e.remote.MutateBatch(ctx, targets, mailapi.Trash())
	var (
		recs    []model.UndoRecord
		unknown = make(map[string]bool)
	)
	for _, id := range targets {
		merr, seen := mutated[id]
		if mErr != nil && (!seen || errors.Is(merr, mErr)) {
			// the call died part way; the message may or may not be in the trash
			unknown[id] = true
		} else if merr != nil {
			out[id] = merr
			continue
		}
		m := byID[id]
		recs = append(recs, model.UndoRecord{
			MessageID:      id,
			Sender:         m.Sender,
			Subject:        m.Subject,
			OriginalLabels: m.Labels,
		})
	}

	if len(recs) > 0 {
		if err := e.recorder.Record(ctx, recs...); err != nil {
			e.logger.Error("Undo write failed after trash",
				zap.Int("count", len(recs)),
				zap.Error(err),
			)
			for _, r := range recs {
				out[r.MessageID] = fmt.Errorf("%w: %w", ErrUndoNotRecorded, err)
			}
		} else {
			for _, r := range recs {
				if unknown[r.MessageID] {
					out[r.MessageID] = fmt.Errorf("%w: %w", ErrOutcomeUnknown, mErr)
				} else {
					out[r.MessageID] = nil
				}
			}
		}
	}
	if len(unknown) > 0 {
		e.logger.Warn("Trash cut off, undo kept for unconfirmed messages",
			zap.Int("count", len(unknown)),
			zap.Error(mErr),
		)
	}
	return out, held, mErr
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
