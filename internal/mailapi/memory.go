package mailapi

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/api/googleapi"

	"mailsweep/internal/model"
)

// MemoryTransport is an in-process mailbox. It backs tests, the CLI demo mode and
// local development. Search supports the from:, is:unread, is:starred, label: and
// has:attachment terms; other terms are ignored, which only widens the result.
type MemoryTransport struct {
	mu    sync.Mutex
	msgs  map[string]*model.MessageSummary
	order []string

	failIDs   map[string]error
	failCalls map[string][]error

	calls sync.Map // call name -> *atomic.Int64
}

func NewMemoryTransport(msgs ...model.MessageSummary) *MemoryTransport {
	m := &MemoryTransport{
		msgs:      make(map[string]*model.MessageSummary),
		failIDs:   make(map[string]error),
		failCalls: make(map[string][]error),
	}
	m.Add(msgs...)
	return m
}

// Add stores msgs, newest first in list order.
func (m *MemoryTransport) Add(msgs ...model.MessageSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		cp := msg
		cp.Labels = slices.Clone(msg.Labels)
		if _, exists := m.msgs[cp.ID]; !exists {
			m.order = append(m.order, cp.ID)
		}
		m.msgs[cp.ID] = &cp
	}
	sort.SliceStable(m.order, func(i, j int) bool {
		a, b := m.msgs[m.order[i]], m.msgs[m.order[j]]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.ID < b.ID
	})
}

// Labels returns the current sorted labels of id.
func (m *MemoryTransport) Labels(id string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(msg.Labels), true
}

// FailID makes every call touching id fail for that id with err.
func (m *MemoryTransport) FailID(err error, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.failIDs[id] = err
	}
}

// FailNext queues whole-call failures for the named call ("list", "get", "modify", "trash").
func (m *MemoryTransport) FailNext(call string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCalls[call] = append(m.failCalls[call], errs...)
}

// Calls returns how many times the named call was made.
func (m *MemoryTransport) Calls(call string) int64 {
	v, ok := m.calls.Load(call)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func (m *MemoryTransport) count(call string) {
	v, _ := m.calls.LoadOrStore(call, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// popFailure must be called with mu held.
func (m *MemoryTransport) popFailure(call string) error {
	q := m.failCalls[call]
	if len(q) == 0 {
		return nil
	}
	m.failCalls[call] = q[1:]
	return q[0]
}

func (m *MemoryTransport) ListPage(ctx context.Context, query string, includeSpamTrash bool, pageToken string, pageSize int64) (Page, error) {
	m.count("list")
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("list"); err != nil {
		return Page{}, err
	}

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return Page{}, &googleapi.Error{Code: http.StatusBadRequest, Message: "invalid page token"}
		}
		start = n
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	terms := parseTerms(query)

	var page Page
	i := start
	for ; i < len(m.order) && int64(len(page.IDs)) < pageSize; i++ {
		msg := m.msgs[m.order[i]]
		if !includeSpamTrash && (msg.HasLabel(model.LabelTrash) || msg.HasLabel(model.LabelSpam)) {
			continue
		}
		if !terms.match(msg) {
			continue
		}
		page.IDs = append(page.IDs, msg.ID)
	}
	if i < len(m.order) {
		page.NextPageToken = strconv.Itoa(i)
	}
	return page, nil
}

func (m *MemoryTransport) GetBatch(ctx context.Context, ids []string) ([]model.MessageSummary, map[string]error, error) {
	m.count("get")
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("get"); err != nil {
		return nil, nil, err
	}
	var (
		out    []model.MessageSummary
		failed = make(map[string]error)
	)
	for _, id := range ids {
		if err, ok := m.failIDs[id]; ok {
			failed[id] = err
			continue
		}
		msg, ok := m.msgs[id]
		if !ok {
			failed[id] = notFound(id)
			continue
		}
		cp := *msg
		cp.Labels = slices.Clone(msg.Labels)
		out = append(out, cp)
	}
	return out, failed, nil
}

func (m *MemoryTransport) Modify(ctx context.Context, ids []string, add, remove []string) (map[string]error, error) {
	return m.apply(ctx, "modify", ids, add, remove)
}

func (m *MemoryTransport) Trash(ctx context.Context, ids []string) (map[string]error, error) {
	return m.apply(ctx, "trash", ids, []string{model.LabelTrash}, []string{model.LabelInbox})
}

func (m *MemoryTransport) apply(ctx context.Context, call string, ids []string, add, remove []string) (map[string]error, error) {
	m.count(call)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure(call); err != nil {
		return nil, err
	}
	failed := make(map[string]error)
	for _, id := range ids {
		if err, ok := m.failIDs[id]; ok {
			failed[id] = err
			continue
		}
		msg, ok := m.msgs[id]
		if !ok {
			failed[id] = notFound(id)
			continue
		}
		msg.Labels = applyLabels(msg.Labels, add, remove)
		msg.Unread = msg.HasLabel(model.LabelUnread)
		msg.Starred = msg.HasLabel(model.LabelStarred)
		msg.Important = msg.HasLabel(model.LabelImportant)
	}
	return failed, nil
}

func applyLabels(cur, add, remove []string) []string {
	set := make(map[string]struct{}, len(cur)+len(add))
	for _, l := range cur {
		set[l] = struct{}{}
	}
	for _, l := range add {
		set[l] = struct{}{}
	}
	for _, l := range remove {
		delete(set, l)
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func notFound(id string) error {
	return &googleapi.Error{Code: http.StatusNotFound, Message: fmt.Sprintf("message %s not found", id)}
}

type searchTerms struct {
	from          []string
	labels        []string
	unread        bool
	starred       bool
	hasAttachment bool
}

func parseTerms(q string) searchTerms {
	var t searchTerms
	for _, f := range strings.Fields(strings.ToLower(q)) {
		switch {
		case strings.HasPrefix(f, "from:"):
			t.from = append(t.from, strings.TrimPrefix(f, "from:"))
		case strings.HasPrefix(f, "label:"):
			t.labels = append(t.labels, strings.TrimPrefix(f, "label:"))
		case f == "is:unread":
			t.unread = true
		case f == "is:starred":
			t.starred = true
		case f == "has:attachment":
			t.hasAttachment = true
		}
	}
	return t
}

func (t searchTerms) match(msg *model.MessageSummary) bool {
	for _, f := range t.from {
		if !strings.Contains(strings.ToLower(msg.From), f) && !strings.Contains(msg.Sender, f) {
			return false
		}
	}
	for _, l := range t.labels {
		found := false
		for _, have := range msg.Labels {
			if strings.EqualFold(have, l) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if t.unread && !msg.Unread {
		return false
	}
	if t.starred && !msg.Starred {
		return false
	}
	if t.hasAttachment && !msg.HasAttachments {
		return false
	}
	return true
}
