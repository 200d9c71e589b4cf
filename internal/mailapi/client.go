package mailapi

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailsweep/internal/model"
	"mailsweep/pkg/circuitbreaker"
	"mailsweep/pkg/metrics"
)

// Config tunes the Client. Zero values other than MaxRetries fall back to DefaultConfig.
type Config struct {
	BatchSize         int                   `yaml:"batch_size"`
	PageSize          int64                 `yaml:"page_size"`
	MaxRetries        int                   `yaml:"max_retries"`
	BaseBackoff       time.Duration         `yaml:"base_backoff"`
	MaxBackoff        time.Duration         `yaml:"max_backoff"`
	CallTimeout       time.Duration         `yaml:"call_timeout"`
	RequestsPerSecond float64               `yaml:"requests_per_second"`
	Burst             int                   `yaml:"burst"`
	Workers           int                   `yaml:"workers"`
	Breaker           circuitbreaker.Config `yaml:"breaker"`
}

func DefaultConfig() Config {
	return Config{
		BatchSize:         MaxBatchSize,
		PageSize:          500,
		MaxRetries:        5,
		BaseBackoff:       500 * time.Millisecond,
		MaxBackoff:        32 * time.Second,
		CallTimeout:       30 * time.Second,
		RequestsPerSecond: 40,
		Burst:             10,
		Workers:           4,
		Breaker:           circuitbreaker.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 || c.BatchSize > MaxBatchSize {
		c.BatchSize = d.BatchSize
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = d.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	return c
}

// Client is safe for concurrent use; every caller shares one limiter, one quota
// gate and one breaker.
type Client struct {
	t       Transport
	cfg     Config
	limiter *rate.Limiter
	gate    *quotaGate
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(t Transport, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	bcfg := cfg.Breaker
	bcfg.IsFailure = func(err error) bool {
		// only faults of the remote side should trip the breaker
		return KindOf(err) == KindTransient
	}
	bcfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Mail API circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Client{
		t:       t,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		gate:    &quotaGate{now: time.Now},
		breaker: circuitbreaker.New(bcfg),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// ListIDs pages through ids matching q, calling fn once per page, until the list is
// exhausted or q.MaxResults ids have been delivered.
func (c *Client) ListIDs(ctx context.Context, q model.Query, fn func(ids []string) error) error {
	var (
		token     string
		delivered int64
		limit     = int64(q.MaxResults)
	)
	for {
		size := c.cfg.PageSize
		if limit > 0 && limit-delivered < size {
			size = limit - delivered
		}
		var page Page
		err := c.call(ctx, "list", func(cctx context.Context) error {
			var err error
			page, err = c.t.ListPage(cctx, q.Raw, q.IncludeSpamTrash, token, size)
			return err
		})
		if err != nil {
			return err
		}
		ids := page.IDs
		if limit > 0 && delivered+int64(len(ids)) > limit {
			ids = ids[:limit-delivered]
		}
		if len(ids) > 0 {
			if err := fn(ids); err != nil {
				return err
			}
		}
		delivered += int64(len(ids))
		if page.NextPageToken == "" || (limit > 0 && delivered >= limit) {
			return nil
		}
		token = page.NextPageToken
	}
}

// FetchBatch fetches summaries for at most one batch of ids. Transient per-id
// failures are retried; the rest come back in failed.
func (c *Client) FetchBatch(ctx context.Context, ids []string) ([]model.MessageSummary, map[string]error, error) {
	if len(ids) > MaxBatchSize {
		return nil, nil, fmt.Errorf("fetch batch of %d exceeds %d", len(ids), MaxBatchSize)
	}
	var (
		mu   sync.Mutex
		msgs = make([]model.MessageSummary, 0, len(ids))
	)
	out, err := c.perID(ctx, "get", ids, func(cctx context.Context, pending []string) (map[string]error, error) {
		got, failed, err := c.t.GetBatch(cctx, pending)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		msgs = append(msgs, got...)
		mu.Unlock()
		return failed, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return msgs, out.Failed(), nil
}

// FetchSummaries fetches ids lazily in batches of batchSize and hands each batch to fn.
func (c *Client) FetchSummaries(ctx context.Context, ids []string, batchSize int, fn func([]model.MessageSummary) error) (map[string]error, error) {
	failed := make(map[string]error)
	for _, b := range Chunk(ids, batchSize) {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		msgs, bf, err := c.FetchBatch(ctx, b)
		if err != nil {
			return failed, err
		}
		for id, e := range bf {
			failed[id] = e
		}
		if err := fn(msgs); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

// Mutate applies m to ids in batches of batchSize and reports every id's outcome.
// It only returns an error for auth expiry or cancellation.
func (c *Client) Mutate(ctx context.Context, ids []string, m Mutation, batchSize int) (Outcomes, error) {
	all := make(Outcomes, len(ids))
	for _, b := range Chunk(ids, batchSize) {
		out, err := c.MutateBatch(ctx, b, m)
		for id, e := range out {
			all[id] = e
		}
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// MutateBatch applies m to a single batch.
func (c *Client) MutateBatch(ctx context.Context, ids []string, m Mutation) (Outcomes, error) {
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("mutate batch of %d exceeds %d", len(ids), MaxBatchSize)
	}
	op := string(m.Kind)
	out, err := c.perID(ctx, op, ids, func(cctx context.Context, pending []string) (map[string]error, error) {
		switch m.Kind {
		case MutationTrash:
			return c.t.Trash(cctx, pending)
		case MutationAddLabels, MutationRemoveLabels, MutationModify:
			return c.t.Modify(cctx, pending, m.Add, m.Remove)
		default:
			return nil, &Error{Kind: KindPermanent, Op: op, Err: fmt.Errorf("unknown mutation %q", m.Kind)}
		}
	})
	if out != nil {
		ok := len(out.Succeeded())
		metrics.AddMutationOutcomes(op, "success", ok)
		metrics.AddMutationOutcomes(op, "failed", len(out)-ok)
	}
	return out, err
}

// perID runs fn over ids and retries ids whose individual failure is retryable.
// A batch-level failure that survives call's own retries is assigned to every
// pending id, unless it is an auth or cancellation error, which aborts.
func (c *Client) perID(ctx context.Context, op string, ids []string, fn func(ctx context.Context, pending []string) (map[string]error, error)) (Outcomes, error) {
	out := make(Outcomes, len(ids))
	pending := ids
	for attempt := 0; len(pending) > 0; attempt++ {
		var idErrs map[string]error
		err := c.call(ctx, op, func(cctx context.Context) error {
			var err error
			idErrs, err = fn(cctx, pending)
			return err
		})
		if err != nil {
			if IsAuthExpired(err) || ctx.Err() != nil {
				for _, id := range pending {
					out[id] = err
				}
				return out, err
			}
			for _, id := range pending {
				out[id] = err
			}
			return out, nil
		}

		var next []string
		var quota time.Duration
		for _, id := range pending {
			e := idErrs[id]
			if e == nil {
				out[id] = nil
				continue
			}
			e = wrap(op, id, e)
			retry, kind := Classify(e)
			if kind == KindAuthExpired {
				out[id] = e
				return out, e
			}
			if retry && attempt < c.cfg.MaxRetries {
				if kind == KindQuota {
					quota = max(quota, c.quotaPause(e, attempt))
				}
				metrics.IncrementMailAPIRetry(kind.String())
				next = append(next, id)
				continue
			}
			out[id] = e
		}
		if len(next) == 0 {
			break
		}
		if quota > 0 {
			c.gate.block(quota)
		} else if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			for _, id := range next {
				out[id] = err
			}
			return out, err
		}
		pending = next
	}
	return out, nil
}

// call runs one transport call under the quota gate, the shared limiter, the
// breaker and a per-call timeout, retrying transient and quota failures.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 0; ; attempt++ {
		if err := c.gate.wait(ctx, c.sleep); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		err := c.breaker.Execute(func() error {
			cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()
			return fn(cctx)
		})
		if err == nil {
			metrics.RecordMailAPICall(op, "ok", time.Since(start))
			return nil
		}
		// a cancelled caller is not a remote failure
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = wrap(op, "", err)
		retry, kind := Classify(err)
		metrics.RecordMailAPICall(op, kind.String(), time.Since(start))
		last = err
		if !retry || attempt >= c.cfg.MaxRetries {
			break
		}

		metrics.IncrementMailAPIRetry(kind.String())
		if kind == KindQuota {
			pause := c.quotaPause(err, attempt)
			c.logger.Warn("Mail API quota exceeded, pausing all workers",
				zap.String("op", op),
				zap.Duration("pause", pause),
			)
			c.gate.block(pause)
			continue
		}
		c.logger.Debug("Retrying mail API call",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return err
		}
	}
	return last
}

func (c *Client) quotaPause(err error, attempt int) time.Duration {
	if d := RetryAfter(err); d > 0 {
		return d
	}
	return c.backoff(attempt)
}

// backoff is exponential with full jitter: uniform in [0, min(max, base·2^attempt)].
func (c *Client) backoff(attempt int) time.Duration {
	ceil := c.cfg.BaseBackoff << min(attempt, 20)
	if ceil <= 0 || ceil > c.cfg.MaxBackoff {
		ceil = c.cfg.MaxBackoff
	}
	return time.Duration(rand.Int64N(int64(ceil) + 1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// quotaGate holds every worker back until a quota pause has elapsed.
type quotaGate struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func (g *quotaGate) block(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t := g.now().Add(d); t.After(g.until) {
		g.until = t
	}
}

func (g *quotaGate) remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.until.Sub(g.now())
}

func (g *quotaGate) wait(ctx context.Context, sleep func(context.Context, time.Duration) error) error {
	for {
		d := g.remaining()
		if d <= 0 {
			return ctx.Err()
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
}
