package models

// TaskPhoto is a photo captured against a task. The file itself stays on
// the device filesystem; the row tracks upload state. Photos upload as
// binary multipart requests, so they travel separately from the task push
// and carry their own progress bookkeeping.
type TaskPhoto struct {
	ID       UUID   `db:"id" json:"id"`
	TaskID   UUID   `db:"task_id" json:"task_id"`
	ServerID string `db:"server_id" json:"server_id,omitempty"`

	FilePath string `db:"file_path" json:"file_path"`
	FileSize int64  `db:"file_size" json:"file_size"`
	MimeType string `db:"mime_type" json:"mime_type"`

	// Capture location, if recorded.
	Latitude  *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64 `db:"longitude" json:"longitude,omitempty"`

	IsSynced       bool  `db:"is_synced" json:"is_synced"`
	NeedsUpload    bool  `db:"needs_upload" json:"needs_upload"`
	UploadProgress int   `db:"upload_progress" json:"upload_progress"`
	LastSyncAt     int64 `db:"last_sync_at" json:"last_sync_at,omitempty"`

	CreatedAt int64 `db:"created_at" json:"created_at"`
	UpdatedAt int64 `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for TaskPhoto.
func (TaskPhoto) TableName() string {
	return "task_photos"
}

// Touch updates the UpdatedAt timestamp.
func (p *TaskPhoto) Touch() {
	p.UpdatedAt = NowMillis()
}

// SetProgress clamps and records upload progress in percent.
func (p *TaskPhoto) SetProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	p.UploadProgress = percent
}

// MarkUploaded records a completed upload.
func (p *TaskPhoto) MarkUploaded(serverID string, at int64) {
	p.ServerID = serverID
	p.IsSynced = true
	p.NeedsUpload = false
	p.UploadProgress = 100
	p.LastSyncAt = at
	p.Touch()
}

// ResetUpload rewinds a failed upload so the next pass retries it.
func (p *TaskPhoto) ResetUpload() {
	p.UploadProgress = 0
	p.NeedsUpload = true
	p.Touch()
}
