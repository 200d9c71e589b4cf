package model

import "time"

// LargeMessage is one row of an attachment report.
type LargeMessage struct {
	ID              string    `json:"id"`
	Sender          string    `json:"sender"`
	Subject         string    `json:"subject"`
	Date            time.Time `json:"date"`
	SizeBytes       int64     `json:"size_bytes"`
	AgeDays         int       `json:"age_days"`
	AttachmentTypes []string  `json:"attachment_types,omitempty"`
}

// AttachmentReport lists the largest messages with attachments. Matched and
// TotalSizeBytes cover every message at or above MinSizeBytes, Messages only
// the largest of them.
type AttachmentReport struct {
	MinSizeBytes   int64          `json:"min_size_bytes"`
	Matched        int            `json:"matched"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	Messages       []LargeMessage `json:"messages"`
}

// DayCount is a message count for one UTC day, formatted 2006-01-02.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

type SenderVelocity struct {
	Sender string     `json:"sender"`
	Total  int        `json:"total"`
	Daily  []DayCount `json:"daily"`
}

// VelocityReport counts incoming mail per day since Since, overall and for the
// busiest senders.
type VelocityReport struct {
	Days        int              `json:"days"`
	Since       time.Time        `json:"since"`
	Total       int              `json:"total"`
	DailyTotals []DayCount       `json:"daily_totals"`
	TopSenders  []SenderVelocity `json:"top_senders"`
}

// MailboxSummary is the headline view over one sender analysis.
type MailboxSummary struct {
	TotalSenders    int       `json:"total_senders"`
	TotalMessages   int       `json:"total_messages"`
	TotalSizeBytes  int64     `json:"total_size_bytes"`
	AvgSpamScore    float64   `json:"avg_spam_score"`
	DeletedLastWeek int       `json:"deleted_last_week"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}
