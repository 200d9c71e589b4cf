package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"mailsweep/internal/aggregate"
	"mailsweep/internal/cache"
	"mailsweep/internal/executor"
	"mailsweep/internal/mailapi"
	"mailsweep/internal/model"
	"mailsweep/internal/mq"
	"mailsweep/internal/progress"
	"mailsweep/internal/rules"
	"mailsweep/internal/scoring"
	"mailsweep/internal/undo"
	"mailsweep/pkg/circuitbreaker"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type published struct {
	mu     sync.Mutex
	events []mq.Event
}

func (p *published) Publish(_ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload.(mq.Event))
	return nil
}

func (p *published) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type heldLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *heldLocks) AcquireOnce(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

func (l *heldLocks) Release(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

type fixture struct {
	svc    *CleanupService
	store  *cache.LRUStore
	mem    *mailapi.MemoryTransport
	ledger *undo.Ledger
	events *published
	rules  *rules.FileStore
	locks  *heldLocks
}

// mailbox: 20 promo messages 100+ days old (every fifth starred), 5 recent
// messages from a friend.
func mailbox() []model.MessageSummary {
	var msgs []model.MessageSummary
	for i := 0; i < 20; i++ {
		labels := []string{model.LabelInbox, model.LabelUnread}
		if i%5 == 0 {
			labels = append(labels, model.LabelStarred)
		}
		msgs = append(msgs, model.MessageSummary{
			ID:             fmt.Sprintf("promo-%02d", i),
			From:           "Shop <promo@shop.example>",
			Sender:         "promo@shop.example",
			Domain:         "shop.example",
			Subject:        "Limited time offer, act now",
			Date:           now.AddDate(0, 0, -100-i),
			SizeBytes:      20_000,
			Unread:         true,
			Starred:        i%5 == 0,
			Labels:         labels,
			HasUnsubscribe: true,
		})
	}
	for i := 0; i < 5; i++ {
		msgs = append(msgs, model.MessageSummary{
			ID:      fmt.Sprintf("friend-%d", i),
			From:    "Pal <friend@pal.example>",
			Sender:  "friend@pal.example",
			Domain:  "pal.example",
			Subject: "lunch?",
			Date:    now.AddDate(0, 0, -i),
			Labels:  []string{model.LabelInbox},
		})
	}
	return msgs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := mailapi.NewMemoryTransport(mailbox()...)
	return newFixtureOn(t, mem, mem)
}

func newFixtureOn(t *testing.T, tr mailapi.Transport, mem *mailapi.MemoryTransport) *fixture {
	t.Helper()
	cfg := mailapi.DefaultConfig()
	cfg.RequestsPerSecond = 1e6
	cfg.Burst = 1000
	cfg.MaxRetries = 0
	cfg.Breaker = circuitbreaker.Config{}
	client := mailapi.NewClient(tr, cfg, nil)

	lists, err := scoring.Compile(scoring.DefaultListsConfig())
	require.NoError(t, err)

	ledger := undo.NewLedger(undo.NewMemoryStore(), client, time.Hour, nil)
	t.Cleanup(ledger.Wait)

	ruleStore := rules.NewFileStore([]model.CleanupRule{
		{
			Name:     "old-promos",
			Enabled:  true,
			Criteria: model.CleanupCriteria{Domain: model.Ptr("shop.example"), OlderThanDays: model.Ptr(90), ExcludeStarred: true},
			Schedule: model.Schedule{Interval: 24 * time.Hour},
		},
		{
			Name:     "paused",
			Criteria: model.CleanupCriteria{Sender: model.Ptr("friend@pal.example")},
			Schedule: model.Schedule{Cron: "@daily"},
		},
	})
	events := &published{}
	locks := &heldLocks{held: map[string]bool{}}
	store := cache.NewLRUStore(64, time.Hour)

	svc := NewCleanupService(Deps{
		Scorers:   scoring.StaticProvider(scoring.New(lists, nil)),
		Collector: aggregate.NewCollector(client, 4, 100, nil),
		Memo:      cache.NewMemo(store, nil),
		Executor:  executor.New(client, ledger, executor.DefaultConfig(), nil),
		Ledger:    ledger,
		Progress:  progress.NewStore(),
		Rules:     ruleStore,
		Events:    events,
		Locker:    locks,
	}, DefaultConfig(), nil)
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, store: store, mem: mem, ledger: ledger, events: events, rules: ruleStore, locks: locks}
}

func TestConcurrentSuggestSharesOneFold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 16
	results := make([][]byte, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, b, err := f.svc.Suggest(ctx, model.Query{})
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0], results[i])
	}
	assert.EqualValues(t, 1, f.mem.Calls("list"))
	assert.EqualValues(t, 1, f.mem.Calls("get"))

	var report model.SuggestionReport
	require.NoError(t, json.Unmarshal(results[0], &report))
	assert.Equal(t, 2, report.Senders)
	// the promo sender has starred mail and is protected
	for _, s := range report.Suggestions {
		assert.NotEqual(t, "promo@shop.example", s.Sender)
	}
}

func TestCleanupTrashesAndInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.AnalyzeSenders(ctx, model.Query{})
	require.NoError(t, err)
	listsBefore := f.mem.Calls("list")

	c := model.CleanupCriteria{
		Sender:         model.Ptr("Promo@Shop.example"),
		OlderThanDays:  model.Ptr(30),
		ExcludeStarred: true,
	}
	out, err := f.svc.Cleanup(ctx, c)
	require.NoError(t, err)
	assert.NotEmpty(t, out.OperationID)
	assert.Contains(t, out.Query, "from:promo@shop.example")
	assert.Len(t, out.Result.Succeeded, 16)
	assert.Empty(t, out.Errors)

	n, err := f.ledger.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	labels, _ := f.mem.Labels("promo-01")
	assert.Contains(t, labels, model.LabelTrash)
	labels, _ = f.mem.Labels("promo-05")
	assert.NotContains(t, labels, model.LabelTrash)

	assert.Equal(t, []string{mq.EventCleanupExecuted}, f.events.types())

	// the cached analysis was dropped, so this folds again and sees fewer messages
	a, _, err := f.svc.AnalyzeSenders(ctx, model.Query{})
	require.NoError(t, err)
	assert.Greater(t, f.mem.Calls("list"), listsBefore+1)
	assert.Equal(t, 4, a.Stats["promo@shop.example"].TotalCount)

	_, ok := f.svc.Progress()
	assert.False(t, ok)
}

func TestCleanupElsewhereInvalidatesSharedCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := NewCleanupService(Deps{
		Scorers:   f.svc.scorers,
		Collector: f.svc.collector,
		Memo:      cache.NewMemo(f.store, nil),
		Executor:  f.svc.exec,
		Ledger:    f.ledger,
	}, DefaultConfig(), nil)

	a, _, err := f.svc.AnalyzeSenders(ctx, model.Query{})
	require.NoError(t, err)
	require.Equal(t, 20, a.Stats["promo@shop.example"].TotalCount)
	lists := f.mem.Calls("list")

	out, err := other.Execute(ctx, []string{"promo-01"}, false)
	require.NoError(t, err)
	require.Len(t, out.Result.Succeeded, 1)

	a, _, err = f.svc.AnalyzeSenders(ctx, model.Query{})
	require.NoError(t, err)
	assert.Greater(t, f.mem.Calls("list"), lists)
	assert.Equal(t, 19, a.Stats["promo@shop.example"].TotalCount)
}

func TestDryRunPreviewsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := model.CleanupCriteria{Domain: model.Ptr("shop.example"), ExcludeStarred: true, DryRun: true}
	first, err := f.svc.Cleanup(ctx, c)
	require.NoError(t, err)
	second, err := f.svc.Cleanup(ctx, c)
	require.NoError(t, err)

	assert.True(t, first.Result.DryRun)
	assert.Len(t, first.Result.Planned, 16)
	assert.Equal(t, first.Result.Planned, second.Result.Planned)
	assert.Zero(t, f.mem.Calls("trash"))
	assert.Empty(t, f.events.types())
	n, _ := f.ledger.Count(ctx)
	assert.Zero(t, n)

	// the real run selects again instead of trusting the preview
	lists := f.mem.Calls("list")
	c.DryRun = false
	out, err := f.svc.Cleanup(ctx, c)
	require.NoError(t, err)
	assert.Greater(t, f.mem.Calls("list"), lists)
	assert.ElementsMatch(t, first.Result.Planned, out.Result.Succeeded)
	assert.Empty(t, out.Result.Excluded)
}

func TestRealRunHonorsStarAddedAfterPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := model.CleanupCriteria{Domain: model.Ptr("shop.example"), ExcludeStarred: true, DryRun: true}
	preview, err := f.svc.Cleanup(ctx, c)
	require.NoError(t, err)
	require.Contains(t, preview.Result.Planned, "promo-01")

	_, err = f.mem.Modify(ctx, []string{"promo-01"}, []string{model.LabelStarred}, nil)
	require.NoError(t, err)

	c.DryRun = false
	out, err := f.svc.Cleanup(ctx, c)
	require.NoError(t, err)
	assert.Len(t, out.Result.Succeeded, 15)
	assert.NotContains(t, out.Result.Succeeded, "promo-01")
	labels, _ := f.mem.Labels("promo-01")
	assert.NotContains(t, labels, model.LabelTrash)
	assert.Contains(t, labels, model.LabelStarred)
}

// starsOnFetch stars ids right after the first fetch, so they change between
// planning and the executor's own fetch.
type starsOnFetch struct {
	*mailapi.MemoryTransport
	ids  []string
	once sync.Once
}

func (s *starsOnFetch) GetBatch(ctx context.Context, ids []string) ([]model.MessageSummary, map[string]error, error) {
	msgs, failed, err := s.MemoryTransport.GetBatch(ctx, ids)
	if err == nil {
		s.once.Do(func() {
			_, err = s.MemoryTransport.Modify(ctx, s.ids, []string{model.LabelStarred}, nil)
		})
	}
	return msgs, failed, err
}

func TestRealRunRechecksLabelsBeforeTrash(t *testing.T) {
	mem := mailapi.NewMemoryTransport(mailbox()...)
	f := newFixtureOn(t, &starsOnFetch{MemoryTransport: mem, ids: []string{"promo-02", "promo-03"}}, mem)

	c := model.CleanupCriteria{Domain: model.Ptr("shop.example"), ExcludeStarred: true}
	out, err := f.svc.Cleanup(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, []string{"promo-02", "promo-03"}, out.Result.Excluded)
	assert.Len(t, out.Result.Succeeded, 14)
	labels, _ := mem.Labels("promo-02")
	assert.NotContains(t, labels, model.LabelTrash)
	n, _ := f.ledger.Count(context.Background())
	assert.Equal(t, 14, n)
}

func TestPlanWithUnfetchedMessagesFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.FailNext("get", &googleapi.Error{Code: http.StatusServiceUnavailable})

	c := model.CleanupCriteria{Domain: model.Ptr("shop.example"), ExcludeStarred: true, DryRun: true}
	_, err := f.svc.Cleanup(ctx, c)
	require.ErrorIs(t, err, ErrPlanIncomplete)

	// the failure was not cached
	out, err := f.svc.Cleanup(ctx, c)
	require.NoError(t, err)
	assert.Len(t, out.Result.Planned, 16)
}

func TestVanishedMessagesDoNotFailThePlan(t *testing.T) {
	f := newFixture(t)
	f.mem.FailID(&googleapi.Error{Code: http.StatusNotFound}, "promo-01")

	plan, err := f.svc.Plan(context.Background(), model.CleanupCriteria{Domain: model.Ptr("shop.example"), ExcludeStarred: true})
	require.NoError(t, err)
	assert.Len(t, plan.IDs, 15)
	assert.NotContains(t, plan.IDs, "promo-01")
}

func TestDomainCleanupReachesSubdomains(t *testing.T) {
	f := newFixture(t)
	f.mem.Add(model.MessageSummary{
		ID:     "sub-0",
		From:   "Deals <deals@mail.shop.example>",
		Sender: "deals@mail.shop.example",
		Domain: "mail.shop.example",
		Date:   now.AddDate(0, 0, -200),
		Labels: []string{model.LabelInbox},
	})

	plan, err := f.svc.Plan(context.Background(), model.CleanupCriteria{Domain: model.Ptr("shop.example"), ExcludeStarred: true})
	require.NoError(t, err)
	assert.Contains(t, plan.IDs, "sub-0")
	assert.Len(t, plan.IDs, 17)
}

func TestInvalidCriteriaNeverReachesRemote(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Cleanup(context.Background(), model.CleanupCriteria{ExcludeStarred: true})
	assert.True(t, model.IsConfigError(err))
	assert.Zero(t, f.mem.Calls("list"))
}

func TestRestoreAfterCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Execute(ctx, []string{"friend-0", "friend-1"}, false)
	require.NoError(t, err)
	require.Len(t, out.Result.Succeeded, 2)

	res, err := f.svc.Restore(ctx, []string{"friend-0", "friend-1", "unknown"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"friend-0", "friend-1"}, res.Restored)
	assert.Equal(t, []string{"unknown"}, res.NotFound)

	labels, _ := f.mem.Labels("friend-0")
	assert.Equal(t, []string{model.LabelInbox}, labels)
	assert.Equal(t, []string{mq.EventCleanupExecuted, mq.EventCleanupRestored}, f.events.types())
}

func TestRunRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.RunRule(ctx, "old-promos")
	require.NoError(t, err)
	assert.Equal(t, "old-promos", out.Rule)
	assert.Len(t, out.Result.Succeeded, 16)

	rule, err := f.rules.Get(ctx, "old-promos")
	require.NoError(t, err)
	require.NotNil(t, rule.LastRun)
	assert.Equal(t, now, *rule.LastRun)

	assert.Empty(t, f.locks.held)

	f.locks.held["rule:old-promos"] = true
	_, err = f.svc.RunRule(ctx, "old-promos")
	assert.ErrorIs(t, err, ErrRuleRunning)

	_, err = f.svc.RunRule(ctx, "paused")
	assert.ErrorIs(t, err, ErrRuleDisabled)
	_, err = f.svc.RunRule(ctx, "missing")
	assert.ErrorIs(t, err, rules.ErrNotFound)
}

func TestExportAndDomains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportCSV(ctx, model.Query{}, &buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "friend@pal.example", rows[1][0])
	assert.Equal(t, "promo@shop.example", rows[2][0])

	domains, err := f.svc.Domains(ctx, model.Query{})
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "shop.example", domains[0].Domain)
	assert.Equal(t, 20, domains[0].Count)

	// both calls were served by one fold
	assert.EqualValues(t, 1, f.mem.Calls("list"))
}

func TestSummaryCountsRecentDeletions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, []string{"promo-01", "promo-02"}, false)
	require.NoError(t, err)

	sum, err := f.svc.Summary(ctx, model.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalSenders)
	assert.Equal(t, 23, sum.TotalMessages)
	assert.Equal(t, 2, sum.DeletedLastWeek)
	assert.True(t, now.Equal(sum.AnalyzedAt))
}

func TestReportDefaultsAndLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	att, err := f.svc.LargeAttachments(ctx, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, DefaultAttachmentMinBytes, att.MinSizeBytes)
	assert.Zero(t, att.Matched)

	vel, err := f.svc.Velocity(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultVelocityDays, vel.Days)
	assert.Equal(t, 5, vel.Total)
	require.Len(t, vel.TopSenders, 1)
	assert.Equal(t, "friend@pal.example", vel.TopSenders[0].Sender)

	lists := f.mem.Calls("list")
	_, err = f.svc.Velocity(ctx, MaxVelocityDays+1, 0)
	assert.True(t, model.IsConfigError(err))
	_, err = f.svc.LargeAttachments(ctx, -1, MaxAttachmentLimit+1)
	assert.True(t, model.IsConfigError(err))
	assert.Equal(t, lists, f.mem.Calls("list"))
}
