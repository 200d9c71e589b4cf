// Package service is the engine facade: it wires the mail client, the scorer,
// the aggregator, the planner, the executor and the undo ledger behind the
// operations the HTTP API and the CLI expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailsweep/internal/aggregate"
	"mailsweep/internal/cache"
	"mailsweep/internal/executor"
	"mailsweep/internal/export"
	"mailsweep/internal/model"
	"mailsweep/internal/mq"
	"mailsweep/internal/planner"
	"mailsweep/internal/progress"
	"mailsweep/internal/repository"
	"mailsweep/internal/rules"
	"mailsweep/internal/scoring"
	"mailsweep/internal/undo"
	"mailsweep/pkg/util"
)

var (
	ErrNoRules      = errors.New("no rule store configured")
	ErrRuleDisabled = errors.New("rule is disabled")
	ErrRuleRunning  = errors.New("rule is already running")

	// ErrPlanIncomplete means some messages matching the search could not be
	// fetched, so the selection would be silently short.
	ErrPlanIncomplete = errors.New("plan incomplete: messages could not be fetched")
)

// Cache operation names, the <op> segment of cache keys.
const (
	opSenders     = "senders"
	opSuggestions = "suggestions"
	opIDs         = "ids"
	opAttachments = "attachments"
	opVelocity    = "velocity"
)

// Report limits.
const (
	DefaultAttachmentMinBytes = 5 << 20
	DefaultAttachmentLimit    = 100
	MaxAttachmentLimit        = 1000
	DefaultVelocityDays       = 30
	MaxVelocityDays           = 365
	DefaultVelocityTop        = 10
	summaryDeletedWindow      = 7 * 24 * time.Hour
)

type Config struct {
	SendersTTL     time.Duration         `yaml:"senders_ttl"`
	SuggestionsTTL time.Duration         `yaml:"suggestions_ttl"`
	IDsTTL         time.Duration         `yaml:"ids_ttl"`
	Suggest        planner.SuggestConfig `yaml:"suggest"`
}

func DefaultConfig() Config {
	return Config{
		SendersTTL:     time.Hour,
		SuggestionsTTL: 30 * time.Minute,
		IDsTTL:         10 * time.Minute,
		Suggest:        planner.DefaultSuggestConfig(),
	}
}

// EventPublisher is satisfied by pkg/mq.Publisher.
type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

// Locker keeps a rule from running twice at once across processes.
// pkg/util.Deduper implements it.
type Locker interface {
	AcquireOnce(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

var _ Locker = (*util.Deduper)(nil)

// SnapshotStore persists the sender stats of the last full analysis.
type SnapshotStore interface {
	ReplaceSnapshot(ctx context.Context, stats []*model.SenderStats, at time.Time) error
}

var _ SnapshotStore = (*repository.SenderStatsRepository)(nil)

// Deps are the collaborators of a CleanupService. Rules, Snapshots, Events and
// Locker are optional.
type Deps struct {
	Scorers   *scoring.Provider
	Collector *aggregate.Collector
	Memo      *cache.Memo
	Executor  *executor.Executor
	Ledger    *undo.Ledger
	Progress  *progress.Store
	Rules     rules.Store
	Snapshots SnapshotStore
	Events    EventPublisher
	Locker    Locker
}

// Analysis is the cached result of a sender fold.
type Analysis struct {
	Query      model.Query                   `json:"query"`
	Stats      map[string]*model.SenderStats `json:"stats"`
	Messages   int                           `json:"messages"`
	Failed     int                           `json:"failed"`
	ScorerHash string                        `json:"scorer_hash"`
	AnalyzedAt time.Time                     `json:"analyzed_at"`
}

// PlanResult lists the ids a criteria value selects right now.
type PlanResult struct {
	Query string   `json:"query"`
	IDs   []string `json:"ids"`
}

// CleanupResult wraps the executor result with the run's identity.
type CleanupResult struct {
	OperationID string            `json:"operation_id"`
	Rule        string            `json:"rule,omitempty"`
	Query       string            `json:"query,omitempty"`
	Result      *executor.Result  `json:"result"`
	Errors      map[string]string `json:"errors,omitempty"`
}

type CleanupService struct {
	scorers   *scoring.Provider
	collector *aggregate.Collector
	memo      *cache.Memo
	exec      *executor.Executor
	ledger    *undo.Ledger
	progress  *progress.Store
	rules     rules.Store
	snapshots SnapshotStore
	events    EventPublisher
	locker    Locker
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	// keys computed by this process; all of them go stale once the mailbox changes
	keys sync.Map
}

func NewCleanupService(d Deps, cfg Config, logger *zap.Logger) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.SendersTTL <= 0 {
		cfg.SendersTTL = def.SendersTTL
	}
	if cfg.SuggestionsTTL <= 0 {
		cfg.SuggestionsTTL = def.SuggestionsTTL
	}
	if cfg.IDsTTL <= 0 {
		cfg.IDsTTL = def.IDsTTL
	}
	if d.Progress == nil {
		d.Progress = progress.NewStore()
	}
	if d.Memo == nil {
		d.Memo = cache.NewMemo(nil, logger)
	}
	return &CleanupService{
		scorers:   d.Scorers,
		collector: d.Collector,
		memo:      d.Memo,
		exec:      d.Executor,
		ledger:    d.Ledger,
		progress:  d.Progress,
		rules:     d.Rules,
		snapshots: d.Snapshots,
		events:    d.Events,
		locker:    d.Locker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Progress returns the running operation, if any.
func (s *CleanupService) Progress() (model.OperationProgress, bool) {
	return s.progress.Current()
}

// AnalyzeSenders folds every message matching q into per-sender stats. The
// result is cached per query and scorer; concurrent identical calls share one
// fold and receive identical bytes.
func (s *CleanupService) AnalyzeSenders(ctx context.Context, q model.Query) (*Analysis, []byte, error) {
	scorer := s.scorers.Current()
	key, err := s.memo.Key(ctx, opSenders, struct {
		Query  model.Query `json:"query"`
		Scorer string      `json:"scorer"`
	}{q, scorer.Fingerprint()})
	if err != nil {
		return nil, nil, err
	}
	s.keys.Store(key, struct{}{})

	var a Analysis
	b, err := s.memo.DoInto(ctx, key, s.cfg.SendersTTL, &a, func(ctx context.Context) (any, error) {
		return s.analyze(ctx, q, scorer)
	})
	if err != nil {
		return nil, nil, err
	}
	return &a, b, nil
}

func (s *CleanupService) analyze(ctx context.Context, q model.Query, scorer *scoring.Scorer) (*Analysis, error) {
	op := s.progress.Begin("analyze")
	defer op.Finish()

	res, err := s.collector.Collect(ctx, q, scorer, op, nil)
	if err != nil {
		return nil, err
	}
	a := &Analysis{
		Query:      q,
		Stats:      res.Stats,
		Messages:   res.Messages,
		Failed:     res.Failed,
		ScorerHash: res.ScorerHash,
		AnalyzedAt: s.now().UTC(),
	}
	if s.snapshots != nil && q.Raw == "" && q.MaxResults == 0 {
		if err := s.snapshots.ReplaceSnapshot(ctx, aggregate.Sorted(res.Stats), a.AnalyzedAt); err != nil {
			s.logger.Warn("Sender snapshot not saved", zap.Error(err))
		}
	}
	return a, nil
}

// Domains rolls the sender analysis of q up per domain.
func (s *CleanupService) Domains(ctx context.Context, q model.Query) ([]model.DomainStats, error) {
	a, _, err := s.AnalyzeSenders(ctx, q)
	if err != nil {
		return nil, err
	}
	return aggregate.ByDomain(a.Stats), nil
}

// Suggest ranks cleanup candidates over the analysis of q.
func (s *CleanupService) Suggest(ctx context.Context, q model.Query) (*model.SuggestionReport, []byte, error) {
	scorer := s.scorers.Current()
	key, err := s.memo.Key(ctx, opSuggestions, struct {
		Query  model.Query           `json:"query"`
		Scorer string                `json:"scorer"`
		Config planner.SuggestConfig `json:"config"`
	}{q, scorer.Fingerprint(), s.cfg.Suggest})
	if err != nil {
		return nil, nil, err
	}
	s.keys.Store(key, struct{}{})

	var report model.SuggestionReport
	b, err := s.memo.DoInto(ctx, key, s.cfg.SuggestionsTTL, &report, func(ctx context.Context) (any, error) {
		a, _, err := s.AnalyzeSenders(ctx, q)
		if err != nil {
			return nil, err
		}
		return planner.Report(a.Stats, s.cfg.Suggest, scorer.Lists()), nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &report, b, nil
}

// LargeAttachments reports the limit largest messages with attachments of at
// least minBytes. Zero values take the defaults.
func (s *CleanupService) LargeAttachments(ctx context.Context, minBytes int64, limit int) (*model.AttachmentReport, error) {
	if minBytes == 0 {
		minBytes = DefaultAttachmentMinBytes
	}
	if limit == 0 {
		limit = DefaultAttachmentLimit
	}
	var errs model.ConfigErrors
	if minBytes < 0 {
		errs = append(errs, &model.ConfigError{Field: "min_size_bytes", Reason: "must not be negative"})
	}
	if limit < 0 || limit > MaxAttachmentLimit {
		errs = append(errs, &model.ConfigError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", MaxAttachmentLimit)})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	now := s.now()
	scorer := s.scorers.Current()

	// ages are relative to today
	key, err := s.memo.Key(ctx, opAttachments, struct {
		MinBytes int64  `json:"min_bytes"`
		Limit    int    `json:"limit"`
		Day      string `json:"day"`
	}{minBytes, limit, now.UTC().Format("2006-01-02")})
	if err != nil {
		return nil, err
	}
	s.keys.Store(key, struct{}{})

	var report model.AttachmentReport
	_, err = s.memo.DoInto(ctx, key, s.cfg.SendersTTL, &report, func(ctx context.Context) (any, error) {
		op := s.progress.Begin("attachments")
		defer op.Finish()

		q := model.Query{Raw: fmt.Sprintf("has:attachment larger:%d", max(minBytes-1, 0))}
		top := aggregate.NewAttachmentTop(minBytes, limit)
		if _, err := s.collector.Collect(ctx, q, scorer, op, top.Add); err != nil {
			return nil, err
		}
		r := top.Report(now)
		s.logger.Info("Large attachments found",
			zap.Int64("min_bytes", minBytes),
			zap.Int("matched", r.Matched),
			zap.Int64("total_bytes", r.TotalSizeBytes),
		)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Velocity counts incoming mail per day over the last days days, overall and
// for the top busiest senders. Zero values take the defaults.
func (s *CleanupService) Velocity(ctx context.Context, days, top int) (*model.VelocityReport, error) {
	if days == 0 {
		days = DefaultVelocityDays
	}
	if top == 0 {
		top = DefaultVelocityTop
	}
	var errs model.ConfigErrors
	if days < 0 || days > MaxVelocityDays {
		errs = append(errs, &model.ConfigError{Field: "days", Reason: fmt.Sprintf("must be between 1 and %d", MaxVelocityDays)})
	}
	if top < 0 {
		errs = append(errs, &model.ConfigError{Field: "top", Reason: "must not be negative"})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	scorer := s.scorers.Current()
	since := now.AddDate(0, 0, -days).Truncate(24 * time.Hour)

	key, err := s.memo.Key(ctx, opVelocity, struct {
		Days int    `json:"days"`
		Top  int    `json:"top"`
		Day  string `json:"day"`
	}{days, top, now.Format("2006-01-02")})
	if err != nil {
		return nil, err
	}
	s.keys.Store(key, struct{}{})

	var report model.VelocityReport
	_, err = s.memo.DoInto(ctx, key, s.cfg.SendersTTL, &report, func(ctx context.Context) (any, error) {
		op := s.progress.Begin("velocity")
		defer op.Finish()

		// after: is exclusive and day-granular; the counter drops the extra day
		q := model.Query{Raw: "after:" + since.AddDate(0, 0, -1).Format("2006/01/02")}
		counter := aggregate.NewVelocityCounter(since)
		if _, err := s.collector.Collect(ctx, q, scorer, op, counter.Add); err != nil {
			return nil, err
		}
		r := counter.Report(top)
		r.Days = days
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Summary totals the sender analysis of q and counts the messages trashed in
// the last week that are still restorable.
func (s *CleanupService) Summary(ctx context.Context, q model.Query) (*model.MailboxSummary, error) {
	a, _, err := s.AnalyzeSenders(ctx, q)
	if err != nil {
		return nil, err
	}
	sum := aggregate.Summarize(a.Stats)
	sum.AnalyzedAt = a.AnalyzedAt
	n, err := s.ledger.CountSince(ctx, s.now().Add(-summaryDeletedWindow))
	if err != nil {
		return nil, fmt.Errorf("count recent deletions: %w", err)
	}
	sum.DeletedLastWeek = n
	return &sum, nil
}

// Plan resolves criteria to message ids. The remote search narrows the
// candidates; the local matcher decides.
func (s *CleanupService) Plan(ctx context.Context, c model.CleanupCriteria) (*PlanResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c = c.Canonical()
	now := s.now()
	scorer := s.scorers.Current()

	// a preview and the real run share ids; the query is date-relative, so the
	// day is part of the key
	keyed := c
	keyed.DryRun = false
	key, err := s.memo.Key(ctx, opIDs, struct {
		Criteria model.CleanupCriteria `json:"criteria"`
		Scorer   string                `json:"scorer"`
		Day      string                `json:"day"`
	}{keyed, scorer.Fingerprint(), now.UTC().Format("2006-01-02")})
	if err != nil {
		return nil, err
	}
	s.keys.Store(key, struct{}{})

	var plan PlanResult
	_, err = s.memo.DoInto(ctx, key, s.cfg.IDsTTL, &plan, func(ctx context.Context) (any, error) {
		p, _, err := s.plan(ctx, c, scorer, now)
		return p, err
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *CleanupService) plan(ctx context.Context, c model.CleanupCriteria, scorer *scoring.Scorer, now time.Time) (*PlanResult, map[string]*model.SenderStats, error) {
	op := s.progress.Begin("plan")
	defer op.Finish()

	q := model.Query{Raw: c.Query(now)}
	var (
		mu   sync.Mutex
		msgs []model.MessageSummary
	)
	res, err := s.collector.Collect(ctx, q, scorer, op, func(m model.MessageSummary) {
		mu.Lock()
		msgs = append(msgs, m)
		mu.Unlock()
	})
	if err != nil {
		return nil, nil, err
	}
	if res.Failed > 0 {
		s.logger.Warn("Plan abandoned, messages not fetched",
			zap.String("query", q.Raw),
			zap.Int("failed", res.Failed),
		)
		return nil, nil, fmt.Errorf("%w: %d of %d", ErrPlanIncomplete, res.Failed, res.Failed+res.Messages)
	}
	// workers deliver in any order
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Date.Equal(msgs[j].Date) {
			return msgs[i].Date.After(msgs[j].Date)
		}
		return msgs[i].ID < msgs[j].ID
	})
	ids, err := planner.Plan(c, msgs, res.Stats, now)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("Cleanup planned",
		zap.String("query", q.Raw),
		zap.Int("candidates", len(msgs)),
		zap.Int("selected", len(ids)),
		zap.Int("missing", res.Missing),
	)
	return &PlanResult{Query: q.Raw, IDs: ids}, res.Stats, nil
}

// Cleanup plans c and trashes the result, or only previews it when c.DryRun.
func (s *CleanupService) Cleanup(ctx context.Context, c model.CleanupCriteria) (*CleanupResult, error) {
	return s.cleanup(ctx, c, "")
}

func (s *CleanupService) cleanup(ctx context.Context, c model.CleanupCriteria, rule string) (*CleanupResult, error) {
	if c.DryRun {
		plan, err := s.Plan(ctx, c)
		if err != nil {
			return nil, err
		}
		out, err := s.execute(ctx, plan.IDs, true, rule, nil)
		out.Query = plan.Query
		return out, err
	}

	// a real run never reuses a cached preview: ids are selected afresh and each
	// message is matched again against its labels as fetched right before trash
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c = c.Canonical()
	now := s.now()
	plan, stats, err := s.plan(ctx, c, s.scorers.Current(), now)
	if err != nil {
		return nil, err
	}
	m, err := planner.NewMatcher(c, stats, now)
	if err != nil {
		return nil, err
	}
	out, err := s.execute(ctx, plan.IDs, false, rule, m.Match)
	out.Query = plan.Query
	return out, err
}

// Execute trashes the given ids directly.
func (s *CleanupService) Execute(ctx context.Context, ids []string, dryRun bool) (*CleanupResult, error) {
	return s.execute(ctx, ids, dryRun, "", nil)
}

func (s *CleanupService) execute(ctx context.Context, ids []string, dryRun bool, rule string, guard executor.Guard) (*CleanupResult, error) {
	op := s.progress.Begin("cleanup")
	defer op.Finish()

	res, err := s.exec.ExecuteGuarded(ctx, ids, dryRun, guard, op)
	out := &CleanupResult{OperationID: op.ID(), Rule: rule, Result: res}
	if res == nil {
		return out, err
	}
	out.Errors = res.Errors()
	if !dryRun && len(res.Succeeded) > 0 {
		s.invalidate(context.WithoutCancel(ctx))
		s.publish(mq.EventCleanupExecuted, mq.CleanupExecutedPayload{
			OperationID: op.ID(),
			Rule:        rule,
			Requested:   res.Requested,
			Succeeded:   len(res.Succeeded),
			Failed:      len(res.Failed),
			Skipped:     len(res.Skipped),
			Excluded:    len(res.Excluded),
			DurationMS:  res.Duration.Milliseconds(),
		})
	}
	return out, err
}

// Restore puts trashed messages back within the undo window.
func (s *CleanupService) Restore(ctx context.Context, ids []string) (undo.RestoreResult, error) {
	op := s.progress.Begin("restore")
	defer op.Finish()

	res, err := s.ledger.Restore(ctx, ids)
	op.Update(100, fmt.Sprintf("restored %d messages", len(res.Restored)))
	if len(res.Restored) > 0 {
		s.invalidate(context.WithoutCancel(ctx))
		s.publish(mq.EventCleanupRestored, mq.CleanupRestoredPayload{
			OperationID: op.ID(),
			Restored:    len(res.Restored),
			NotFound:    len(res.NotFound),
			Failed:      len(res.Failed),
		})
	}
	return res, err
}

// PurgeExpired drops undo records whose window has closed.
func (s *CleanupService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.ledger.PurgeExpired(ctx, s.now())
}

// ExportCSV writes the sender analysis of q as CSV.
func (s *CleanupService) ExportCSV(ctx context.Context, q model.Query, w io.Writer) error {
	a, _, err := s.AnalyzeSenders(ctx, q)
	if err != nil {
		return err
	}
	return export.WriteCSV(w, a.Stats)
}

func (s *CleanupService) Rules(ctx context.Context) ([]model.CleanupRule, error) {
	if s.rules == nil {
		return nil, ErrNoRules
	}
	return s.rules.List(ctx)
}

func (s *CleanupService) SaveRule(ctx context.Context, rule *model.CleanupRule) error {
	if s.rules == nil {
		return ErrNoRules
	}
	return s.rules.Upsert(ctx, rule)
}

func (s *CleanupService) DeleteRule(ctx context.Context, name string) error {
	if s.rules == nil {
		return ErrNoRules
	}
	return s.rules.Delete(ctx, name)
}

// RunRule runs a stored rule once: plan, then execute. Scheduling is left to
// whoever calls this.
func (s *CleanupService) RunRule(ctx context.Context, name string) (*CleanupResult, error) {
	if s.rules == nil {
		return nil, ErrNoRules
	}
	rule, err := s.rules.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !rule.Enabled {
		return nil, fmt.Errorf("%s: %w", name, ErrRuleDisabled)
	}
	if s.locker != nil {
		key := "rule:" + rule.Name
		if !s.locker.AcquireOnce(ctx, key) {
			return nil, fmt.Errorf("%s: %w", name, ErrRuleRunning)
		}
		defer s.locker.Release(context.WithoutCancel(ctx), key)
	}
	out, err := s.cleanup(ctx, rule.Criteria, rule.Name)
	if err != nil {
		return out, err
	}
	if !rule.Criteria.DryRun {
		if err := s.rules.MarkRun(context.WithoutCancel(ctx), rule.Name, s.now()); err != nil {
			s.logger.Warn("Rule run not recorded", zap.String("rule", rule.Name), zap.Error(err))
		}
	}
	return out, nil
}

func (s *CleanupService) invalidate(ctx context.Context) {
	var keys []string
	s.keys.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		s.keys.Delete(k)
		return true
	})
	s.memo.Invalidate(ctx, keys...)
}

func (s *CleanupService) publish(routingKey string, payload any) {
	if s.events == nil {
		return
	}
	evt, err := mq.NewEvent(routingKey, payload)
	if err == nil {
		err = s.events.Publish(routingKey, evt)
	}
	if err != nil {
		s.logger.Warn("Event not published", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
