// Package scoring estimates how safe a message or sender is to discard.
//
// A message's content score is a pure function of the message and the compiled
// Lists, so the aggregator can sum per-message scores in any order. The sender
// level multipliers (velocity, unread ratio) are applied once per sender by Finalize.
package scoring

import (
	"strings"

	"mailsweep/internal/model"
	"mailsweep/internal/util"
)

// Classifier is an optional learned model returning the spam probability of a
// message. ok=false means the model abstains.
type Classifier interface {
	Probability(msg model.MessageSummary) (p float64, ok bool)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(msg model.MessageSummary) (float64, bool)

func (f ClassifierFunc) Probability(msg model.MessageSummary) (float64, bool) { return f(msg) }

// History is the sender-level evidence used by the secondary multipliers.
type History struct {
	Velocity    float64 // messages per day
	UnreadRatio float64
}

// HistoryOf derives History from aggregated stats.
func HistoryOf(s *model.SenderStats) History {
	return History{Velocity: s.Velocity(), UnreadRatio: s.UnreadRatio()}
}

// Scorer is immutable and safe for concurrent use.
type Scorer struct {
	lists *Lists
	clf   Classifier
}

// New returns a Scorer over lists; clf may be nil.
func New(lists *Lists, clf Classifier) *Scorer {
	return &Scorer{lists: lists, clf: clf}
}

func (s *Scorer) Lists() *Lists { return s.lists }

// Fingerprint changes whenever the scorer could produce different output.
func (s *Scorer) Fingerprint() string {
	fp := s.lists.Fingerprint()
	if s.clf != nil {
		fp += "+model"
	}
	return fp
}

// Score is the full per-message score in [0,1].
func (s *Scorer) Score(msg model.MessageSummary, h History) float64 {
	return s.Finalize(s.ContentScore(msg), h)
}

// ContentScore runs every step that depends only on the message itself.
func (s *Scorer) ContentScore(msg model.MessageSummary) float64 {
	// importance is an override, not a signal
	if s.IsImportant(msg) {
		return 0
	}
	w := s.lists.weights

	hits := s.PatternHits(msg)
	rule := min(1, float64(hits)*w.PatternWeight)
	if msg.HasUnsubscribe {
		rule += w.UnsubscribeWeight
	}
	if s.IsAutomated(msg.Sender) {
		rule += w.AutomatedWeight
	}
	if s.IsNewsletterSubject(msg.Subject) {
		rule += w.NewsletterWeight
	}
	rule = clamp(rule)

	if s.lists.TrustedSender(msg.Sender, msg.Domain) && hits < w.StrongSpamHits {
		rule *= w.TrustedFactor
	}

	if s.clf != nil {
		if p, ok := s.clf.Probability(msg); ok {
			mw := min(w.ModelWeight, MaxModelWeight)
			rule = (1-mw)*rule + mw*clamp(p)
		}
	}
	return clamp(rule)
}

// Finalize applies the sender-level multipliers to an aggregated content score.
func (s *Scorer) Finalize(content float64, h History) float64 {
	w := s.lists.weights
	score := content
	if w.VelocityThreshold > 0 && h.Velocity >= w.VelocityThreshold && w.VelocityBoost > 0 {
		score *= w.VelocityBoost
	}
	score *= 1 + w.UnreadWeight*(h.UnreadRatio-0.5)
	return clamp(score)
}

// PatternHits counts distinct spam patterns matching the subject or snippet.
func (s *Scorer) PatternHits(msg model.MessageSummary) int {
	if len(s.lists.patterns) == 0 {
		return 0
	}
	text := msg.Subject + "\n" + msg.Snippet
	n := 0
	for _, re := range s.lists.patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// IsImportant reports whether subject or snippet contains an important keyword.
func (s *Scorer) IsImportant(msg model.MessageSummary) bool {
	if len(s.lists.importantKeywords) == 0 {
		return false
	}
	text := strings.ToLower(msg.Subject + "\n" + msg.Snippet)
	for _, k := range s.lists.importantKeywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// IsAutomated reports whether the local part of sender starts with an automated prefix.
func (s *Scorer) IsAutomated(sender string) bool {
	local, _ := util.SplitSender(strings.ToLower(sender))
	for _, p := range s.lists.automatedPrefixes {
		if strings.HasPrefix(local, p) {
			return true
		}
	}
	return false
}

// IsNewsletterSubject reports whether subject contains a newsletter keyword.
func (s *Scorer) IsNewsletterSubject(subject string) bool {
	subject = strings.ToLower(subject)
	for _, k := range s.lists.newsletterKeywords {
		if strings.Contains(subject, k) {
			return true
		}
	}
	return false
}

// IsNewsletterDomain reports whether domain is a known newsletter platform.
func (s *Scorer) IsNewsletterDomain(domain string) bool {
	return inDomainSet(s.lists.newsletterDomains, domain)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
