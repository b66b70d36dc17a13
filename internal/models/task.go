package models

import "time"

// TaskStatus enumerates the lifecycle states of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
	StatusOnHold     TaskStatus = "on_hold"
)

// Valid reports whether the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusOnHold:
		return true
	}
	return false
}

// TaskPriority enumerates task priorities.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// Valid reports whether the priority is a known value.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Task represents a work order carried out at a site. Tasks are created and
// edited offline; the sync envelope fields track how far the local copy has
// diverged from the server's.
type Task struct {
	ID          UUID         `db:"id" json:"id"`
	ServerID    string       `db:"server_id" json:"server_id,omitempty"`
	Title       string       `db:"title" json:"title"`
	Description string       `db:"description" json:"description,omitempty"`
	Status      TaskStatus   `db:"status" json:"status"`
	Priority    TaskPriority `db:"priority" json:"priority"`
	AssignedTo  string       `db:"assigned_to_id" json:"assigned_to_id,omitempty"`
	SiteID      string       `db:"site_id" json:"site_id,omitempty"`
	DueDate     int64        `db:"due_date" json:"due_date,omitempty"`
	CompletedAt int64        `db:"completed_at" json:"completed_at,omitempty"`

	// Captured location, if the device recorded one at creation time.
	Latitude  *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64 `db:"longitude" json:"longitude,omitempty"`
	Accuracy  *float64 `db:"accuracy" json:"accuracy,omitempty"`
	Address   string   `db:"address" json:"address,omitempty"`

	// Sync envelope.
	IsSynced     bool  `db:"is_synced" json:"is_synced"`
	NeedsSync    bool  `db:"needs_sync" json:"needs_sync"`
	SyncConflict bool  `db:"sync_conflict" json:"sync_conflict"`
	LastSyncAt   int64 `db:"last_sync_at" json:"last_sync_at,omitempty"`

	CreatedAt int64 `db:"created_at" json:"created_at"`
	UpdatedAt int64 `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (t *Task) CreatedAtTime() time.Time {
	return MillisToTime(t.CreatedAt)
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (t *Task) UpdatedAtTime() time.Time {
	return MillisToTime(t.UpdatedAt)
}

// DueDateTime returns DueDate as time.Time.
func (t *Task) DueDateTime() time.Time {
	return MillisToTime(t.DueDate)
}

// Touch updates the UpdatedAt timestamp.
func (t *Task) Touch() {
	t.UpdatedAt = NowMillis()
}

// MarkDirty records a local mutation that has not reached the server yet.
func (t *Task) MarkDirty() {
	t.NeedsSync = true
	t.IsSynced = false
	t.Touch()
}

// MarkSynced records a successful reconciliation with the server.
func (t *Task) MarkSynced(serverID string, at int64) {
	if serverID != "" {
		t.ServerID = serverID
	}
	t.IsSynced = true
	t.NeedsSync = false
	t.SyncConflict = false
	t.LastSyncAt = at
}

// MarkConflicted flags a divergent concurrent update for manual review.
// The local copy keeps its field values until the conflict is resolved.
func (t *Task) MarkConflicted() {
	t.SyncConflict = true
	t.IsSynced = false
}

// ApplyStatus sets the status and keeps CompletedAt consistent with it:
// CompletedAt is set exactly when the task is completed.
func (t *Task) ApplyStatus(status TaskStatus) {
	t.Status = status
	if status == StatusCompleted {
		if t.CompletedAt == 0 {
			t.CompletedAt = NowMillis()
		}
	} else {
		t.CompletedAt = 0
	}
}

// HasLocation reports whether the task carries a captured location.
func (t *Task) HasLocation() bool {
	return t.Latitude != nil && t.Longitude != nil
}

// Overdue reports whether the task is past its due date and not completed.
func (t *Task) Overdue(now time.Time) bool {
	if t.DueDate == 0 || t.Status == StatusCompleted || t.Status == StatusCancelled {
		return false
	}
	return TimeToMillis(now) > t.DueDate
}
