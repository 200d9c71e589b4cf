package planner

import (
	"path"
	"strings"
	"time"

	"mailsweep/internal/model"
)

// Plan returns the ids of msgs selected by c, in input order and without
// duplicates. Every set predicate must hold; exclusions are checked last and
// always win. stats is consulted for the spam score range only.
func Plan(c model.CleanupCriteria, msgs []model.MessageSummary, stats map[string]*model.SenderStats, now time.Time) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m := newMatcher(c.Canonical(), stats, now)
	seen := make(map[string]struct{}, len(msgs))
	ids := make([]string, 0)
	for _, msg := range msgs {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		if m.Match(msg) {
			seen[msg.ID] = struct{}{}
			ids = append(ids, msg.ID)
		}
	}
	return ids, nil
}

// Matcher evaluates one canonical criteria value against messages.
type Matcher struct {
	c     model.CleanupCriteria
	stats map[string]*model.SenderStats
	now   time.Time
	types map[string]struct{}
}

// NewMatcher validates c and returns a reusable Matcher.
func NewMatcher(c model.CleanupCriteria, stats map[string]*model.SenderStats, now time.Time) (*Matcher, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return newMatcher(c.Canonical(), stats, now), nil
}

func newMatcher(c model.CleanupCriteria, stats map[string]*model.SenderStats, now time.Time) *Matcher {
	m := &Matcher{c: c, stats: stats, now: now}
	if len(c.AttachmentTypes) > 0 {
		m.types = make(map[string]struct{}, len(c.AttachmentTypes))
		for _, t := range c.AttachmentTypes {
			m.types[strings.TrimPrefix(t, ".")] = struct{}{}
		}
	}
	return m
}

// Match reports whether msg is selected.
func (m *Matcher) Match(msg model.MessageSummary) bool {
	return m.included(msg) && !m.excluded(msg)
}

func (m *Matcher) included(msg model.MessageSummary) bool {
	c := m.c
	sender, domain := senderOf(msg)
	if c.Sender != nil && sender != *c.Sender {
		return false
	}
	if c.Domain != nil && !domainMatches(domain, *c.Domain) {
		return false
	}
	if c.OlderThanDays != nil {
		if msg.Date.IsZero() || !msg.Date.Before(m.now.AddDate(0, 0, -*c.OlderThanDays)) {
			return false
		}
	}
	if c.NewerThanDays != nil {
		if msg.Date.IsZero() || !msg.Date.After(m.now.AddDate(0, 0, -*c.NewerThanDays)) {
			return false
		}
	}
	if c.Unread != nil && msg.Unread != *c.Unread {
		return false
	}
	if c.HasAttachment != nil && msg.HasAttachments != *c.HasAttachment {
		return false
	}
	if m.types != nil && !m.hasType(msg) {
		return false
	}
	if c.MinSizeBytes != nil && msg.SizeBytes < *c.MinSizeBytes {
		return false
	}
	if c.MaxSizeBytes != nil && msg.SizeBytes > *c.MaxSizeBytes {
		return false
	}
	for _, l := range c.IncludeLabels {
		if !hasLabelFold(msg, l) {
			return false
		}
	}
	if c.MinSpamScore != nil || c.MaxSpamScore != nil {
		s, ok := m.stats[sender]
		if !ok {
			return false
		}
		if c.MinSpamScore != nil && s.SpamScore < *c.MinSpamScore {
			return false
		}
		if c.MaxSpamScore != nil && s.SpamScore > *c.MaxSpamScore {
			return false
		}
	}
	return true
}

func (m *Matcher) excluded(msg model.MessageSummary) bool {
	c := m.c
	if c.ExcludeImportant && (msg.Important || msg.HasLabel(model.LabelImportant)) {
		return true
	}
	if c.ExcludeStarred && (msg.Starred || msg.HasLabel(model.LabelStarred)) {
		return true
	}
	for _, l := range c.ExcludeLabels {
		if hasLabelFold(msg, l) {
			return true
		}
	}
	if len(c.ExcludeDomains) > 0 {
		_, domain := senderOf(msg)
		for _, g := range c.ExcludeDomains {
			if ok, _ := path.Match(g, domain); ok {
				return true
			}
		}
	}
	return false
}

func (m *Matcher) hasType(msg model.MessageSummary) bool {
	for _, t := range msg.AttachmentTypes {
		if _, ok := m.types[strings.TrimPrefix(strings.ToLower(t), ".")]; ok {
			return true
		}
	}
	return false
}

func senderOf(msg model.MessageSummary) (sender, domain string) {
	sender = strings.ToLower(msg.Sender)
	domain = strings.ToLower(msg.Domain)
	if domain == "" {
		if at := strings.LastIndexByte(sender, '@'); at >= 0 {
			domain = sender[at+1:]
		}
	}
	return sender, domain
}

// domainMatches accepts the domain itself and its subdomains.
func domainMatches(domain, want string) bool {
	return domain == want || strings.HasSuffix(domain, "."+want)
}

func hasLabelFold(msg model.MessageSummary, label string) bool {
	for _, l := range msg.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
