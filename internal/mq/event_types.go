package mq

// Routing keys, also used as Event.Type.
const (
	EventCleanupExecuted = "cleanup.executed"
	EventCleanupRestored = "cleanup.restored"
)

// CleanupExecutedPayload 一次真实（非 dry-run）清理完成
type CleanupExecutedPayload struct {
	OperationID string `json:"operation_id"`
	Rule        string `json:"rule,omitempty"`
	Requested   int    `json:"requested"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Excluded    int    `json:"excluded,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// CleanupRestoredPayload 一次撤销完成
type CleanupRestoredPayload struct {
	OperationID string `json:"operation_id"`
	Restored    int    `json:"restored"`
	NotFound    int    `json:"not_found"`
	Failed      int    `json:"failed"`
}
