// Package aggregate folds message summaries into per-sender statistics.
//
// The fold only uses sums, min/max and order-independent choices, so partials
// built over arbitrary shards merge to exactly the same result as one pass.
package aggregate

import (
	"math"
	"sort"

	"mailsweep/internal/model"
	"mailsweep/internal/scoring"
	"mailsweep/internal/util"
)

const microsPerUnit = 1_000_000

// Partial is an in-progress fold. It is not safe for concurrent use; give each
// worker its own and Merge them.
type Partial struct {
	scorer  *scoring.Scorer
	senders map[string]*model.SenderStats
	skipped int
}

func NewPartial(scorer *scoring.Scorer) *Partial {
	return &Partial{scorer: scorer, senders: make(map[string]*model.SenderStats)}
}

// Len returns the number of senders seen.
func (p *Partial) Len() int { return len(p.senders) }

// Skipped returns how many messages had no parseable sender.
func (p *Partial) Skipped() int { return p.skipped }

// Add folds one message.
func (p *Partial) Add(msg model.MessageSummary) {
	sender := msg.Sender
	if sender == "" {
		sender = util.NormalizeSender(msg.From)
	}
	if sender == "" {
		p.skipped++
		return
	}
	domain := msg.Domain
	if domain == "" {
		_, domain = util.SplitSender(sender)
	}

	s, ok := p.senders[sender]
	if !ok {
		s = &model.SenderStats{Email: sender, Domain: domain}
		p.senders[sender] = s
	}

	s.TotalCount++
	s.TotalSize += msg.SizeBytes
	if msg.Unread {
		s.UnreadCount++
	}
	if msg.Starred {
		s.StarredCount++
	}
	if msg.Important {
		s.ImportantCount++
	}
	if msg.HasAttachments {
		s.AttachmentCount++
	}
	if msg.HasUnsubscribe {
		s.UnsubscribeCount++
		s.HasUnsubscribe = true
	}
	s.UnsubscribeURL = pickURL(s.UnsubscribeURL, msg.UnsubscribeURL)
	if !msg.Date.IsZero() {
		if s.Oldest.IsZero() || msg.Date.Before(s.Oldest) {
			s.Oldest = msg.Date
		}
		if s.Newest.IsZero() || msg.Date.After(s.Newest) {
			s.Newest = msg.Date
		}
	}

	if p.scorer.IsImportant(msg) {
		s.ProtectedCount++
	}
	if p.scorer.IsNewsletterSubject(msg.Subject) {
		s.NewsletterHits++
	}
	s.ScoreMicros += int64(math.Round(p.scorer.ContentScore(msg) * microsPerUnit))
}

// Merge folds other into p. other must not be used afterwards.
func (p *Partial) Merge(other *Partial) {
	p.skipped += other.skipped
	for k, o := range other.senders {
		s, ok := p.senders[k]
		if !ok {
			cp := *o
			p.senders[k] = &cp
			continue
		}
		s.TotalCount += o.TotalCount
		s.UnreadCount += o.UnreadCount
		s.StarredCount += o.StarredCount
		s.ImportantCount += o.ImportantCount
		s.AttachmentCount += o.AttachmentCount
		s.TotalSize += o.TotalSize
		s.ScoreMicros += o.ScoreMicros
		s.NewsletterHits += o.NewsletterHits
		s.UnsubscribeCount += o.UnsubscribeCount
		s.ProtectedCount += o.ProtectedCount
		s.HasUnsubscribe = s.HasUnsubscribe || o.HasUnsubscribe
		s.UnsubscribeURL = pickURL(s.UnsubscribeURL, o.UnsubscribeURL)
		if s.Domain == "" {
			s.Domain = o.Domain
		}
		if !o.Oldest.IsZero() && (s.Oldest.IsZero() || o.Oldest.Before(s.Oldest)) {
			s.Oldest = o.Oldest
		}
		if !o.Newest.IsZero() && (s.Newest.IsZero() || o.Newest.After(s.Newest)) {
			s.Newest = o.Newest
		}
	}
}

// Finalize derives flags and the sender spam score. The partial is left untouched.
func (p *Partial) Finalize() map[string]*model.SenderStats {
	w := p.scorer.Lists().Weights()
	out := make(map[string]*model.SenderStats, len(p.senders))
	for k, s := range p.senders {
		cp := *s
		cp.IsAutomated = p.scorer.IsAutomated(cp.Email)
		cp.IsNewsletter = (w.NewsletterMinHits > 0 && cp.NewsletterHits >= w.NewsletterMinHits) ||
			p.scorer.IsNewsletterDomain(cp.Domain)
		var avg float64
		if cp.TotalCount > 0 {
			avg = float64(cp.ScoreMicros) / microsPerUnit / float64(cp.TotalCount)
		}
		cp.SpamScore = p.scorer.Finalize(avg, scoring.HistoryOf(&cp))
		out[k] = &cp
	}
	return out
}

// pickURL keeps the lexicographically smallest non-empty URL so the choice does
// not depend on fold order.
func pickURL(cur, cand string) string {
	switch {
	case cand == "":
		return cur
	case cur == "" || cand < cur:
		return cand
	default:
		return cur
	}
}

// Aggregate folds msgs in a single pass.
func Aggregate(msgs []model.MessageSummary, scorer *scoring.Scorer) map[string]*model.SenderStats {
	p := NewPartial(scorer)
	for _, m := range msgs {
		p.Add(m)
	}
	return p.Finalize()
}

// Sorted returns stats ordered by message count desc, then sender.
func Sorted(stats map[string]*model.SenderStats) []*model.SenderStats {
	out := make([]*model.SenderStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCount != out[j].TotalCount {
			return out[i].TotalCount > out[j].TotalCount
		}
		return out[i].Email < out[j].Email
	})
	return out
}

// ByDomain rolls sender stats up per domain, largest first.
func ByDomain(stats map[string]*model.SenderStats) []model.DomainStats {
	byDomain := make(map[string]*model.DomainStats)
	for _, s := range stats {
		d, ok := byDomain[s.Domain]
		if !ok {
			d = &model.DomainStats{Domain: s.Domain}
			byDomain[s.Domain] = d
		}
		d.Count += s.TotalCount
		d.Unread += s.UnreadCount
		d.Size += s.TotalSize
		d.UniqueSenders++
		if !s.Oldest.IsZero() && (d.Oldest.IsZero() || s.Oldest.Before(d.Oldest)) {
			d.Oldest = s.Oldest
		}
		if s.Newest.After(d.Newest) {
			d.Newest = s.Newest
		}
	}
	out := make([]model.DomainStats, 0, len(byDomain))
	for _, d := range byDomain {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}
