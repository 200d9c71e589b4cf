// Package planner turns sender statistics into ranked cleanup suggestions and
// evaluates cleanup criteria into concrete message id sets.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"mailsweep/internal/model"
	"mailsweep/internal/scoring"
)

// SuggestConfig tunes the ranking.
//
// Confidence = SpamScore · n / (n + EvidenceHalfPoint), n = sender message count.
// A sender with EvidenceHalfPoint messages gets half its spam score as confidence,
// so volume grows confidence monotonically towards the score itself.
type SuggestConfig struct {
	MinConfidence     float64 `yaml:"min_confidence" json:"min_confidence"`
	EvidenceHalfPoint float64 `yaml:"evidence_half_point" json:"evidence_half_point"`
	MaxSuggestions    int     `yaml:"max_suggestions" json:"max_suggestions"`
	MinMessages       int     `yaml:"min_messages" json:"min_messages"`
	DeleteThreshold   float64 `yaml:"delete_threshold" json:"delete_threshold"`
}

func DefaultSuggestConfig() SuggestConfig {
	return SuggestConfig{
		MinConfidence:     0.3,
		EvidenceHalfPoint: 5,
		MaxSuggestions:    20,
		DeleteThreshold:   0.7,
	}
}

func (c SuggestConfig) withDefaults() SuggestConfig {
	d := DefaultSuggestConfig()
	if c.EvidenceHalfPoint < 0 {
		c.EvidenceHalfPoint = d.EvidenceHalfPoint
	}
	if c.MaxSuggestions <= 0 {
		c.MaxSuggestions = d.MaxSuggestions
	}
	if c.DeleteThreshold <= 0 {
		c.DeleteThreshold = d.DeleteThreshold
	}
	return c
}

// Lists is what the planner needs from the compiled scoring lists.
type Lists interface {
	TrustedSender(sender, domain string) bool
	AgeThreshold(category string) int
}

var _ Lists = (*scoring.Lists)(nil)

// Confidence implements the documented ranking formula.
func Confidence(spamScore float64, count int, halfPoint float64) float64 {
	if count <= 0 {
		return 0
	}
	n := float64(count)
	return spamScore * n / (n + halfPoint)
}

// Suggest ranks senders worth cleaning up. Protected senders (any important or
// starred message, or an important keyword), trusted senders and senders below
// MinConfidence are never suggested. The result is ordered by confidence, then
// total size, then count, then sender address.
func Suggest(stats map[string]*model.SenderStats, cfg SuggestConfig, lists Lists) []model.Suggestion {
	cfg = cfg.withDefaults()
	out := make([]model.Suggestion, 0)
	for _, s := range stats {
		if s.TotalCount == 0 || s.TotalCount < cfg.MinMessages {
			continue
		}
		if s.Protected() {
			continue
		}
		if lists != nil && lists.TrustedSender(s.Email, s.Domain) {
			continue
		}
		conf := Confidence(s.SpamScore, s.TotalCount, cfg.EvidenceHalfPoint)
		if conf < cfg.MinConfidence {
			continue
		}
		action := model.ActionReview
		if s.SpamScore > cfg.DeleteThreshold {
			action = model.ActionDelete
		}
		out = append(out, model.Suggestion{
			Sender:     s.Email,
			Domain:     s.Domain,
			Confidence: conf,
			SpamScore:  s.SpamScore,
			Reason:     Reason(s),
			Action:     action,
			Impact: model.Impact{
				EmailCount:  s.TotalCount,
				SizeMB:      s.SizeMB(),
				UnreadCount: s.UnreadCount,
			},
			Criteria: RecommendedCriteria(s, lists),
		})
	}

	sizeOf := func(sg model.Suggestion) int64 { return stats[sg.Sender].TotalSize }
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if sa, sb := sizeOf(a), sizeOf(b); sa != sb {
			return sa > sb
		}
		if a.Impact.EmailCount != b.Impact.EmailCount {
			return a.Impact.EmailCount > b.Impact.EmailCount
		}
		return a.Sender < b.Sender
	})
	if len(out) > cfg.MaxSuggestions {
		out = out[:cfg.MaxSuggestions]
	}
	return out
}

// Report wraps Suggest with totals.
func Report(stats map[string]*model.SenderStats, cfg SuggestConfig, lists Lists) model.SuggestionReport {
	sg := Suggest(stats, cfg, lists)
	r := model.SuggestionReport{Suggestions: sg, Senders: len(stats)}
	for _, s := range sg {
		r.TotalImpact.EmailCount += s.Impact.EmailCount
		r.TotalImpact.SizeMB += s.Impact.SizeMB
		r.TotalImpact.UnreadCount += s.Impact.UnreadCount
	}
	return r
}

// Reason explains a suggestion in a few words.
func Reason(s *model.SenderStats) string {
	var parts []string
	if s.IsNewsletter {
		parts = append(parts, "Newsletter")
	}
	if s.IsAutomated {
		parts = append(parts, "Automated sender")
	}
	if v := s.Velocity(); v > 1 {
		parts = append(parts, fmt.Sprintf("High volume (%s emails/day)", humanize.FtoaWithDigits(v, 1)))
	}
	if rr := s.ReadRate(); s.TotalCount > 0 && rr < 0.3 {
		parts = append(parts, fmt.Sprintf("Low read rate (%.0f%%)", rr*100))
	}
	if s.HasUnsubscribe {
		parts = append(parts, "Marketing email")
	}
	if len(parts) == 0 {
		parts = append(parts, "Potential spam")
	}
	if s.TotalSize > 0 {
		parts = append(parts, humanize.IBytes(uint64(s.TotalSize)))
	}
	return strings.Join(parts, " - ")
}

// Category picks the age threshold bucket for a sender.
func Category(s *model.SenderStats) string {
	switch {
	case s.IsNewsletter:
		return scoring.CategoryNewsletter
	case s.IsAutomated:
		return scoring.CategoryAutomated
	case s.HasUnsubscribe:
		return scoring.CategoryPromotional
	default:
		return scoring.CategoryDefault
	}
}

// RecommendedCriteria targets the sender's messages older than its category's
// threshold, keeping anything important or starred.
func RecommendedCriteria(s *model.SenderStats, lists Lists) model.CleanupCriteria {
	days := 90
	if lists != nil {
		days = lists.AgeThreshold(Category(s))
	}
	return model.CleanupCriteria{
		Sender:           model.Ptr(s.Email),
		OlderThanDays:    model.Ptr(days),
		ExcludeImportant: true,
		ExcludeStarred:   true,
	}
}
