package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"mailsweep/internal/mailapi"
	"mailsweep/internal/model"
	"mailsweep/internal/undo"
	"mailsweep/pkg/circuitbreaker"
)

func newClient(tr mailapi.Transport) *mailapi.Client {
	cfg := mailapi.DefaultConfig()
	cfg.RequestsPerSecond = 1e6
	cfg.Burst = 1000
	cfg.MaxRetries = 0
	cfg.Breaker = circuitbreaker.Config{}
	return mailapi.NewClient(tr, cfg, nil)
}

func mailbox(n int) ([]model.MessageSummary, []string) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]model.MessageSummary, n)
	ids := make([]string, n)
	for i := range msgs {
		ids[i] = fmt.Sprintf("id-%03d", i)
		msgs[i] = model.MessageSummary{
			ID:     ids[i],
			Sender: "promo@shop.example",
			Date:   base.Add(-time.Duration(i) * time.Minute),
			Labels: []string{model.LabelInbox, model.LabelUnread},
		}
	}
	return msgs, ids
}

// trashRejecting fails trash for selected ids only; reads still work.
type trashRejecting struct {
	*mailapi.MemoryTransport
	bad map[string]bool
}

func (t *trashRejecting) Trash(ctx context.Context, ids []string) (map[string]error, error) {
	var good []string
	failed := map[string]error{}
	for _, id := range ids {
		if t.bad[id] {
			failed[id] = &googleapi.Error{Code: http.StatusBadRequest, Message: "invalid id"}
		} else {
			good = append(good, id)
		}
	}
	rest, err := t.MemoryTransport.Trash(ctx, good)
	for id, e := range rest {
		failed[id] = e
	}
	return failed, err
}

type fixture struct {
	tr     *mailapi.MemoryTransport
	ledger *undo.Ledger
	exec   *Executor
}

func newFixture(t *testing.T, tr mailapi.Transport, mem *mailapi.MemoryTransport, cfg Config) *fixture {
	c := newClient(tr)
	l := undo.NewLedger(undo.NewMemoryStore(), c, time.Hour, nil)
	t.Cleanup(l.Wait)
	return &fixture{tr: mem, ledger: l, exec: New(c, l, cfg, nil)}
}

func (f *fixture) records(t *testing.T) int {
	n, err := f.ledger.Count(context.Background())
	require.NoError(t, err)
	return n
}

type percents struct{ last atomic.Int64 }

func (p *percents) Update(pct int, _ string) { p.last.Store(int64(pct)) }

func TestPartialBatchFailure(t *testing.T) {
	msgs, ids := mailbox(100)
	mem := mailapi.NewMemoryTransport(msgs...)
	bad := map[string]bool{}
	for i := 50; i < 60; i++ {
		bad[ids[i]] = true
	}
	f := newFixture(t, &trashRejecting{MemoryTransport: mem, bad: bad}, mem, DefaultConfig())

	rep := &percents{}
	res, err := f.exec.Execute(context.Background(), ids, false, rep)
	require.NoError(t, err)

	assert.Len(t, res.Succeeded, 90)
	assert.Len(t, res.Failed, 10)
	assert.Equal(t, ids[50:60], res.FailedIDs())
	for _, id := range res.FailedIDs() {
		assert.Equal(t, mailapi.KindPermanent, mailapi.KindOf(res.Failed[id]))
	}
	assert.Equal(t, 90, f.records(t))
	assert.Equal(t, 1, res.Batches)
	assert.EqualValues(t, 100, rep.last.Load())

	labels, _ := mem.Labels(ids[0])
	assert.Contains(t, labels, model.LabelTrash)
	labels, _ = mem.Labels(ids[55])
	assert.NotContains(t, labels, model.LabelTrash)
}

func TestDryRunHasNoSideEffects(t *testing.T) {
	msgs, ids := mailbox(250)
	mem := mailapi.NewMemoryTransport(msgs...)
	f := newFixture(t, mem, mem, DefaultConfig())

	first, err := f.exec.Execute(context.Background(), append(ids, ids[0]), true, nil)
	require.NoError(t, err)
	second, err := f.exec.Execute(context.Background(), append(ids, ids[0]), true, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 250, first.Count())
	assert.Empty(t, first.Succeeded)
	assert.Zero(t, mem.Calls("get"))
	assert.Zero(t, mem.Calls("trash"))
	assert.Zero(t, f.records(t))
}

func TestExecuteSpreadsBatchesAcrossWorkers(t *testing.T) {
	msgs, ids := mailbox(450)
	mem := mailapi.NewMemoryTransport(msgs...)
	f := newFixture(t, mem, mem, Config{Workers: 3, BatchSize: 100})

	res, err := f.exec.Execute(context.Background(), append(ids, ids[:10]...), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 450, res.Requested)
	assert.Equal(t, 5, res.Batches)
	assert.Len(t, res.Succeeded, 450)
	assert.Equal(t, 450, f.records(t))
	assert.EqualValues(t, 5, mem.Calls("trash"))
}

// cancelAfterFirst cancels the run as soon as one batch has been reported.
type cancelAfterFirst struct{ cancel context.CancelFunc }

func (c cancelAfterFirst) Update(int, string) { c.cancel() }

func TestCancellationLetsInFlightBatchFinish(t *testing.T) {
	msgs, ids := mailbox(250)
	mem := mailapi.NewMemoryTransport(msgs...)
	f := newFixture(t, mem, mem, Config{Workers: 1, BatchSize: 100})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := f.exec.Execute(ctx, ids, false, cancelAfterFirst{cancel})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, res.Succeeded, 100)
	assert.Len(t, res.Skipped, 150)
	assert.Empty(t, res.Failed)
	// every trashed message has its undo entry
	assert.Equal(t, 100, f.records(t))
	assert.EqualValues(t, 1, mem.Calls("trash"))
}

func TestCancelledBeforeStartTouchesNothing(t *testing.T) {
	msgs, ids := mailbox(10)
	mem := mailapi.NewMemoryTransport(msgs...)
	f := newFixture(t, mem, mem, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.exec.Execute(ctx, ids, false, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Skipped, 10)
	assert.Zero(t, mem.Calls("trash"))
}

func TestAuthExpiryStopsNewBatches(t *testing.T) {
	msgs, ids := mailbox(300)
	mem := mailapi.NewMemoryTransport(msgs...)
	f := newFixture(t, mem, mem, Config{Workers: 1, BatchSize: 100})
	mem.FailNext("trash", &googleapi.Error{Code: http.StatusUnauthorized})

	res, err := f.exec.Execute(context.Background(), ids, false, nil)
	require.Error(t, err)
	assert.True(t, mailapi.IsAuthExpired(err))
	assert.Empty(t, res.Succeeded)
	assert.Len(t, res.Failed, 100)
	assert.Len(t, res.Skipped, 200)
	assert.ErrorIs(t, res.Failed[ids[0]], ErrOutcomeUnknown)
	assert.True(t, mailapi.IsAuthExpired(res.Failed[ids[0]]))
	// the cut-off batch keeps its undo records
	assert.Equal(t, 100, f.records(t))
}

// trashCutOff trashes the first half of a call, then reports the token expired.
type trashCutOff struct {
	*mailapi.MemoryTransport
}

func (t *trashCutOff) Trash(ctx context.Context, ids []string) (map[string]error, error) {
	if _, err := t.MemoryTransport.Trash(ctx, ids[:len(ids)/2]); err != nil {
		return nil, err
	}
	return nil, &googleapi.Error{Code: http.StatusUnauthorized}
}

func TestTrashCutOffByAuthExpiryCanBeRestored(t *testing.T) {
	msgs, ids := mailbox(10)
	mem := mailapi.NewMemoryTransport(msgs...)
	f := newFixture(t, &trashCutOff{mem}, mem, DefaultConfig())
	ctx := context.Background()

	res, err := f.exec.Execute(ctx, ids, false, nil)
	require.Error(t, err)
	assert.True(t, mailapi.IsAuthExpired(err))
	require.Len(t, res.Failed, 10)
	for _, id := range ids {
		assert.ErrorIs(t, res.Failed[id], ErrOutcomeUnknown)
	}
	labels, _ := mem.Labels(ids[0])
	assert.Contains(t, labels, model.LabelTrash)
	require.Equal(t, 10, f.records(t))

	restored, err := f.ledger.Restore(ctx, ids)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, restored.Restored)
	labels, _ = mem.Labels(ids[0])
	assert.Equal(t, []string{model.LabelInbox, model.LabelUnread}, labels)
	labels, _ = mem.Labels(ids[9])
	assert.Equal(t, []string{model.LabelInbox, model.LabelUnread}, labels)
}

func TestGuardHoldsBackChangedMessages(t *testing.T) {
	msgs, ids := mailbox(6)
	mem := mailapi.NewMemoryTransport(msgs...)
	f := newFixture(t, mem, mem, Config{Workers: 2, BatchSize: 2})
	// starred after the ids were planned
	_, err := mem.Modify(context.Background(), []string{ids[1], ids[4]}, []string{model.LabelStarred}, nil)
	require.NoError(t, err)

	notStarred := func(m model.MessageSummary) bool { return !m.HasLabel(model.LabelStarred) }
	res, err := f.exec.ExecuteGuarded(context.Background(), ids, false, notStarred, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1], ids[4]}, res.Excluded)
	assert.Equal(t, []string{ids[0], ids[2], ids[3], ids[5]}, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 4, f.records(t))

	labels, _ := mem.Labels(ids[1])
	assert.NotContains(t, labels, model.LabelTrash)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, ...model.UndoRecord) error {
	return errors.New("disk full")
}

func TestUnrecordedTrashIsReportedAsFailure(t *testing.T) {
	msgs, ids := mailbox(5)
	mem := mailapi.NewMemoryTransport(msgs...)
	exec := New(newClient(mem), failingRecorder{}, DefaultConfig(), nil)

	res, err := exec.Execute(context.Background(), ids, false, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)
	require.Len(t, res.Failed, 5)
	assert.ErrorIs(t, res.Failed[ids[0]], ErrUndoNotRecorded)
}

func TestMissingMessagesAreNotTrashed(t *testing.T) {
	msgs, ids := mailbox(3)
	mem := mailapi.NewMemoryTransport(msgs...)
	f := newFixture(t, mem, mem, DefaultConfig())

	res, err := f.exec.Execute(context.Background(), append(ids, "ghost"), false, nil)
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 3)
	assert.Equal(t, []string{"ghost"}, res.FailedIDs())
	assert.Equal(t, 3, f.records(t))
}
