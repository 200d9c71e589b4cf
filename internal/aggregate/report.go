package aggregate

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"mailsweep/internal/model"
)

const dayLayout = "2006-01-02"

// AttachmentTop keeps the largest messages with attachments seen so far. It is
// safe for concurrent Add, so it can sit behind a Collector visit hook.
type AttachmentTop struct {
	mu      sync.Mutex
	min     int64
	limit   int
	msgs    []model.MessageSummary
	matched int
	total   int64
}

func NewAttachmentTop(minSize int64, limit int) *AttachmentTop {
	limit = max(limit, 1)
	return &AttachmentTop{min: minSize, limit: limit}
}

func (a *AttachmentTop) Add(m model.MessageSummary) {
	if !m.HasAttachments || m.SizeBytes < a.min {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.matched++
	a.total += m.SizeBytes
	a.msgs = append(a.msgs, m)
	if len(a.msgs) >= 2*a.limit {
		a.trim()
	}
}

func (a *AttachmentTop) trim() {
	sort.Slice(a.msgs, func(i, j int) bool {
		if a.msgs[i].SizeBytes != a.msgs[j].SizeBytes {
			return a.msgs[i].SizeBytes > a.msgs[j].SizeBytes
		}
		return a.msgs[i].ID < a.msgs[j].ID
	})
	if len(a.msgs) > a.limit {
		a.msgs = a.msgs[:a.limit]
	}
}

// Report returns the largest messages, biggest first, ages relative to now.
func (a *AttachmentTop) Report(now time.Time) model.AttachmentReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trim()
	out := model.AttachmentReport{
		MinSizeBytes:   a.min,
		Matched:        a.matched,
		TotalSizeBytes: a.total,
		Messages:       make([]model.LargeMessage, 0, len(a.msgs)),
	}
	for _, m := range a.msgs {
		lm := model.LargeMessage{
			ID:              m.ID,
			Sender:          m.Sender,
			Subject:         m.Subject,
			Date:            m.Date,
			SizeBytes:       m.SizeBytes,
			AttachmentTypes: m.AttachmentTypes,
		}
		if !m.Date.IsZero() {
			lm.AgeDays = int(now.Sub(m.Date).Hours() / 24)
		}
		out.Messages = append(out.Messages, lm)
	}
	return out
}

// VelocityCounter counts messages per UTC day from since on, overall and per
// sender. Safe for concurrent Add.
type VelocityCounter struct {
	mu       sync.Mutex
	since    time.Time
	daily    map[string]int
	bySender map[string]map[string]int
}

func NewVelocityCounter(since time.Time) *VelocityCounter {
	return &VelocityCounter{
		since:    since,
		daily:    make(map[string]int),
		bySender: make(map[string]map[string]int),
	}
}

// Add counts m unless it is undated or older than since.
func (v *VelocityCounter) Add(m model.MessageSummary) {
	if m.Date.IsZero() || m.Date.Before(v.since) {
		return
	}
	day := m.Date.UTC().Format(dayLayout)
	sender := strings.ToLower(m.Sender)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.daily[day]++
	if sender == "" {
		return
	}
	d, ok := v.bySender[sender]
	if !ok {
		d = make(map[string]int)
		v.bySender[sender] = d
	}
	d[day]++
}

// Report lists the daily totals and the top busiest senders, both by day
// ascending. Senders tie-break by address.
func (v *VelocityCounter) Report(top int) model.VelocityReport {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := model.VelocityReport{Since: v.since, DailyTotals: days(v.daily)}
	for _, d := range out.DailyTotals {
		out.Total += d.Count
	}

	senders := make([]model.SenderVelocity, 0, len(v.bySender))
	for s, d := range v.bySender {
		sv := model.SenderVelocity{Sender: s, Daily: days(d)}
		for _, c := range sv.Daily {
			sv.Total += c.Count
		}
		senders = append(senders, sv)
	}
	sort.Slice(senders, func(i, j int) bool {
		if senders[i].Total != senders[j].Total {
			return senders[i].Total > senders[j].Total
		}
		return senders[i].Sender < senders[j].Sender
	})
	if top = max(top, 0); len(senders) > top {
		senders = senders[:top]
	}
	out.TopSenders = senders
	return out
}

func days(m map[string]int) []model.DayCount {
	out := make([]model.DayCount, 0, len(m))
	for d, n := range m {
		out = append(out, model.DayCount{Day: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// Summarize totals a sender fold. The spam score is the mean over senders,
// rounded to two decimals.
func Summarize(stats map[string]*model.SenderStats) model.MailboxSummary {
	var (
		out   model.MailboxSummary
		score float64
	)
	for _, s := range stats {
		out.TotalSenders++
		out.TotalMessages += s.TotalCount
		out.TotalSizeBytes += s.TotalSize
		score += s.SpamScore
	}
	if out.TotalSenders > 0 {
		out.AvgSpamScore = math.Round(100*score/float64(out.TotalSenders)) / 100
	}
	return out
}
