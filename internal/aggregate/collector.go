package aggregate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailsweep/internal/mailapi"
	"mailsweep/internal/model"
	"mailsweep/internal/progress"
	"mailsweep/internal/scoring"
	"mailsweep/pkg/metrics"
)

// AggregateSharded splits msgs into n shards, folds them in parallel and merges.
func AggregateSharded(msgs []model.MessageSummary, n int, scorer *scoring.Scorer) map[string]*model.SenderStats {
	if n <= 1 || len(msgs) < n {
		return Aggregate(msgs, scorer)
	}
	partials := make([]*Partial, n)
	var wg sync.WaitGroup
	size := (len(msgs) + n - 1) / n
	for i := 0; i < n; i++ {
		start, end := i*size, min((i+1)*size, len(msgs))
		partials[i] = NewPartial(scorer)
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(p *Partial, shard []model.MessageSummary) {
			defer wg.Done()
			for _, m := range shard {
				p.Add(m)
			}
		}(partials[i], msgs[start:end])
	}
	wg.Wait()
	root := partials[0]
	for _, p := range partials[1:] {
		root.Merge(p)
	}
	return root.Finalize()
}

// Source is the slice of the mail client the collector needs.
type Source interface {
	ListIDs(ctx context.Context, q model.Query, fn func(ids []string) error) error
	FetchBatch(ctx context.Context, ids []string) ([]model.MessageSummary, map[string]error, error)
}

var _ Source = (*mailapi.Client)(nil)

// Result is the outcome of one collection run.
// Result of one Collect. Failed counts messages that could not be fetched;
// Missing counts listed messages the remote no longer has.
type Result struct {
	Stats      map[string]*model.SenderStats
	Messages   int
	Failed     int
	Missing    int
	Skipped    int
	Duration   time.Duration
	ScorerHash string
}

// Collector streams summaries from a Source into a sender fold using a bounded
// pool of workers, each folding into its own Partial.
type Collector struct {
	src       Source
	workers   int
	batchSize int
	logger    *zap.Logger
}

func NewCollector(src Source, workers, batchSize int, logger *zap.Logger) *Collector {
	if workers <= 0 {
		workers = 4
	}
	if batchSize <= 0 || batchSize > mailapi.MaxBatchSize {
		batchSize = mailapi.MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{src: src, workers: workers, batchSize: batchSize, logger: logger}
}

// Collect lists every id matching q, fetches summaries in batches and folds them.
// visit, when non-nil, sees every summary and must be safe for concurrent use.
// Per-batch fetch failures are counted and logged; auth expiry aborts.
func (c *Collector) Collect(ctx context.Context, q model.Query, scorer *scoring.Scorer, reporter progress.Reporter, visit func(model.MessageSummary)) (*Result, error) {
	if reporter == nil {
		reporter = progress.Nop
	}
	start := time.Now()

	reporter.Update(0, "listing messages")
	var ids []string
	err := c.src.ListIDs(ctx, q, func(page []string) error {
		ids = append(ids, page...)
		reporter.Update(min(9, len(ids)/1000), fmt.Sprintf("listed %d messages", len(ids)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	batches := mailapi.Chunk(ids, c.batchSize)
	total := len(batches)
	reporter.Update(10, fmt.Sprintf("fetching %d messages in %d batches", len(ids), total))

	var (
		done     atomic.Int64
		failed   atomic.Int64
		missing  atomic.Int64
		fetched  atomic.Int64
		jobs     = make(chan []string)
		partials = make([]*Partial, c.workers)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, b := range batches {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case jobs <- b:
			}
		}
		return nil
	})
	for w := 0; w < c.workers; w++ {
		p := NewPartial(scorer)
		partials[w] = p
		g.Go(func() error {
			for b := range jobs {
				msgs, bad, err := c.src.FetchBatch(gctx, b)
				if err != nil {
					if mailapi.IsAuthExpired(err) || gctx.Err() != nil {
						return err
					}
					c.logger.Warn("Batch fetch failed, skipping",
						zap.Int("batch_size", len(b)),
						zap.Error(err),
					)
					failed.Add(int64(len(b)))
				} else {
					for _, m := range msgs {
						p.Add(m)
						if visit != nil {
							visit(m)
						}
					}
					fetched.Add(int64(len(msgs)))
					for _, ferr := range bad {
						if mailapi.IsNotFound(ferr) {
							missing.Add(1)
						} else {
							failed.Add(1)
						}
					}
					if len(bad) > 0 {
						c.logger.Debug("Messages failed to fetch", zap.Int("count", len(bad)))
					}
				}
				n := done.Add(1)
				reporter.Update(10+int(90*n/int64(total)), fmt.Sprintf("batch %d/%d", n, total))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	root := partials[0]
	for _, p := range partials[1:] {
		root.Merge(p)
	}
	res := &Result{
		Stats:      root.Finalize(),
		Messages:   int(fetched.Load()),
		Failed:     int(failed.Load()),
		Missing:    int(missing.Load()),
		Skipped:    root.Skipped(),
		Duration:   time.Since(start),
		ScorerHash: scorer.Fingerprint(),
	}
	metrics.RecordFoldDuration("collect", res.Duration)
	c.logger.Info("Sender aggregation finished",
		zap.Int("messages", res.Messages),
		zap.Int("senders", len(res.Stats)),
		zap.Int("failed", res.Failed),
		zap.Int("missing", res.Missing),
		zap.Duration("took", res.Duration),
	)
	reporter.Update(100, fmt.Sprintf("analyzed %d senders", len(res.Stats)))
	return res, nil
}
