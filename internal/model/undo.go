package model

import "time"

// UndoRecord remembers the pre-mutation state of one trashed message for the
// duration of the rollback window.
type UndoRecord struct {
	MessageID      string    `json:"message_id"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject,omitempty"`
	DeletedAt      time.Time `json:"deleted_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	OriginalLabels []string  `json:"original_labels"`
}

// Expired reports whether the record's rollback window has closed at now.
func (r UndoRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// OperationProgress is the poll surface for the currently running long operation.
type OperationProgress struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	StartedAt time.Time `json:"started_at"`
	Elapsed   float64   `json:"elapsed_seconds,omitempty"`
}
