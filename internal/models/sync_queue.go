package models

import "encoding/json"

// Queue operations. The payload layout is fixed per operation and decoded
// by the queue package; unknown operations fail the entry at drain time.
const (
	OpCreateTask  = "create_task"
	OpUpdateTask  = "update_task"
	OpDeleteTask  = "delete_task"
	OpUploadPhoto = "upload_photo"
)

// Queue entry statuses.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
)

// SyncQueueEntry represents a durable sync intent that outlives app
// restarts. The engine drains due entries during the push phase; entries
// that keep failing are retried with a quadratic backoff until the retry
// budget runs out.
type SyncQueueEntry struct {
	ID          UUID            `db:"id" json:"id"`
	Operation   string          `db:"operation" json:"operation"`
	Table       string          `db:"table_name" json:"table_name"`
	RecordID    UUID            `db:"record_id" json:"record_id"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Priority    int             `db:"priority" json:"priority"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	Status      string          `db:"status" json:"status"`
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncQueueEntry.
func (SyncQueueEntry) TableName() string {
	return "sync_queue"
}

// Exhausted reports whether the entry has used up its retry budget.
func (e *SyncQueueEntry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}
