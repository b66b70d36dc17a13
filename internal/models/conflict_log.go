package models

import "time"

// Conflict resolutions.
const (
	ResolutionPending   = "pending"
	ResolutionUseLocal  = "use_local"
	ResolutionUseServer = "use_server"
)

// Conflict sources.
const (
	ConflictSourcePush = "push_rejected"
	ConflictSourcePull = "pull_divergent"
)

// ConflictLog records a detected concurrent edit so the review screen can
// show when the copies diverged and how the conflict was settled. One open
// entry exists per conflicted task; resolving the task closes it.
type ConflictLog struct {
	ID              UUID   `db:"id" json:"id"`
	TaskID          UUID   `db:"task_id" json:"task_id"`
	LocalUpdatedAt  int64  `db:"local_updated_at" json:"local_updated_at"`
	RemoteUpdatedAt int64  `db:"remote_updated_at" json:"remote_updated_at"`
	Source          string `db:"source" json:"source"`
	Resolution      string `db:"resolution" json:"resolution"`
	DetectedAt      int64  `db:"detected_at" json:"detected_at"`
	ResolvedAt      int64  `db:"resolved_at" json:"resolved_at,omitempty"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return MillisToTime(c.DetectedAt)
}

// Open reports whether the conflict still awaits a decision.
func (c *ConflictLog) Open() bool {
	return c.Resolution == ResolutionPending
}
