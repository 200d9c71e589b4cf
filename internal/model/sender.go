package model

import "time"

// SenderStats aggregates every message from one normalized sender address.
//
// The exported count fields and the Score*/Hits accumulators are folded with
// commutative operations only (sum, min, max, or), so partial stats built over
// different shards can be merged in any order. SpamScore and the derived flags
// are filled in when the fold is finalized.
type SenderStats struct {
	Email           string    `json:"email"`
	Domain          string    `json:"domain"`
	TotalCount      int       `json:"total_count"`
	UnreadCount     int       `json:"unread_count"`
	StarredCount    int       `json:"starred_count"`
	ImportantCount  int       `json:"important_count"`
	AttachmentCount int       `json:"attachment_count"`
	TotalSize       int64     `json:"total_size"`
	Oldest          time.Time `json:"oldest"`
	Newest          time.Time `json:"newest"`
	SpamScore       float64   `json:"spam_score"`
	IsNewsletter    bool      `json:"is_newsletter"`
	IsAutomated     bool      `json:"is_automated"`
	HasUnsubscribe  bool      `json:"has_unsubscribe"`
	UnsubscribeURL  string    `json:"unsubscribe_url,omitempty"`

	// Fold accumulators.
	ScoreMicros      int64 `json:"score_micros"`
	NewsletterHits   int   `json:"newsletter_hits"`
	UnsubscribeCount int   `json:"unsubscribe_count"`
	ProtectedCount   int   `json:"protected_count"` // messages carrying an important keyword
}

// Velocity returns messages per day over the observed span (at least one day).
func (s *SenderStats) Velocity() float64 {
	if s.TotalCount == 0 || s.Oldest.IsZero() || s.Newest.IsZero() {
		return 0
	}
	days := s.Newest.Sub(s.Oldest).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(s.TotalCount) / days
}

// UnreadRatio returns the fraction of unread messages.
func (s *SenderStats) UnreadRatio() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.UnreadCount) / float64(s.TotalCount)
}

// ReadRate is 1 - UnreadRatio.
func (s *SenderStats) ReadRate() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return 1 - s.UnreadRatio()
}

// SizeMB returns the cumulative size in mebibytes.
func (s *SenderStats) SizeMB() float64 {
	return float64(s.TotalSize) / (1024 * 1024)
}

// Protected reports whether any message of the sender is importance-protected:
// labelled important or starred, or matching an important keyword.
func (s *SenderStats) Protected() bool {
	return s.ImportantCount > 0 || s.StarredCount > 0 || s.ProtectedCount > 0
}

// DomainStats groups sender stats by sender domain.
type DomainStats struct {
	Domain        string    `json:"domain"`
	Count         int       `json:"count"`
	Unread        int       `json:"unread"`
	Size          int64     `json:"size"`
	UniqueSenders int       `json:"unique_senders"`
	Oldest        time.Time `json:"oldest"`
	Newest        time.Time `json:"newest"`
}
