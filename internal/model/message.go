package model

import "time"

// Well-known system labels of the remote mailbox.
const (
	LabelInbox     = "INBOX"
	LabelTrash     = "TRASH"
	LabelUnread    = "UNREAD"
	LabelStarred   = "STARRED"
	LabelImportant = "IMPORTANT"
	LabelSpam      = "SPAM"
)

// MessageSummary is the header-level view of one remote message. It is built once by the
// mail client and never mutated afterwards.
type MessageSummary struct {
	ID              string    `json:"id"`
	ThreadID        string    `json:"thread_id"`
	From            string    `json:"from"`
	Sender          string    `json:"sender"` // normalized address, aggregation key
	Domain          string    `json:"domain"`
	Subject         string    `json:"subject"`
	Snippet         string    `json:"snippet,omitempty"`
	Date            time.Time `json:"date"`
	SizeBytes       int64     `json:"size_bytes"`
	Unread          bool      `json:"unread"`
	Starred         bool      `json:"starred"`
	Important       bool      `json:"important"`
	Labels          []string  `json:"labels"`
	HasAttachments  bool      `json:"has_attachments"`
	AttachmentTypes []string  `json:"attachment_types,omitempty"`
	HasUnsubscribe  bool      `json:"has_unsubscribe"`
	UnsubscribeURL  string    `json:"unsubscribe_url,omitempty"`
}

// HasLabel reports whether the message carries the given label id.
func (m MessageSummary) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AgeDays returns the whole number of days between the message date and now.
func (m MessageSummary) AgeDays(now time.Time) int {
	if m.Date.IsZero() {
		return 0
	}
	return int(now.Sub(m.Date).Hours() / 24)
}

// Query selects the messages an analysis runs over.
type Query struct {
	Raw              string `json:"raw"`
	MaxResults       int    `json:"max_results,omitempty"` // 0 means unlimited
	IncludeSpamTrash bool   `json:"include_spam_trash,omitempty"`
}
