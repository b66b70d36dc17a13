package models

// TaskComment is an append-only note on a task. Comments are never edited
// after creation, so the envelope collapses to a single is_synced flag and
// there is no conflict path for them.
type TaskComment struct {
	ID        UUID   `db:"id" json:"id"`
	TaskID    UUID   `db:"task_id" json:"task_id"`
	ServerID  string `db:"server_id" json:"server_id,omitempty"`
	AuthorID  string `db:"author_id" json:"author_id"`
	Text      string `db:"text" json:"text"`
	IsSynced  bool   `db:"is_synced" json:"is_synced"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for TaskComment.
func (TaskComment) TableName() string {
	return "task_comments"
}
