package model

// Suggestion actions.
const (
	ActionDelete = "delete"
	ActionReview = "review"
)

// Impact summarizes what acting on a suggestion would remove.
type Impact struct {
	EmailCount  int     `json:"email_count"`
	SizeMB      float64 `json:"size_mb"`
	UnreadCount int     `json:"unread_count"`
}

// Suggestion is a ranked cleanup candidate derived from one sender's stats.
type Suggestion struct {
	Sender     string          `json:"sender"`
	Domain     string          `json:"domain"`
	Confidence float64         `json:"confidence"`
	SpamScore  float64         `json:"spam_score"`
	Reason     string          `json:"reason"`
	Action     string          `json:"action"`
	Impact     Impact          `json:"impact"`
	Criteria   CleanupCriteria `json:"recommended_criteria"`
}

// SuggestionReport is the cached result of one suggest call.
type SuggestionReport struct {
	Suggestions []Suggestion `json:"suggestions"`
	TotalImpact Impact       `json:"total_impact"`
	Senders     int          `json:"senders"`
}
