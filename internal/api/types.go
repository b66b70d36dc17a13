package api

import (
	"time"

	"github.com/fieldhq/fieldsync/internal/models"
)

// Wire payloads for the fieldsync backend. The server speaks RFC3339
// timestamps; the device stores epoch milliseconds. Conversion happens
// here and nowhere else.

// UserDTO is a user account as the server returns it.
type UserDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Model converts the wire payload into a local row. The server identifier
// lands in ServerID; the local ID is assigned by the store on first upsert.
func (d UserDTO) Model() *models.User {
	return &models.User{
		ServerID:  d.ID,
		Name:      d.Name,
		Email:     d.Email,
		Role:      d.Role,
		CreatedAt: models.TimeToMillis(d.CreatedAt),
		UpdatedAt: models.TimeToMillis(d.UpdatedAt),
	}
}

// SiteDTO is a work site as the server returns it.
type SiteDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Model converts the wire payload into a local row.
func (d SiteDTO) Model() *models.Site {
	return &models.Site{
		ServerID:  d.ID,
		Name:      d.Name,
		Address:   d.Address,
		Latitude:  d.Latitude,
		Longitude: d.Longitude,
		CreatedAt: models.TimeToMillis(d.CreatedAt),
		UpdatedAt: models.TimeToMillis(d.UpdatedAt),
	}
}

// TaskDTO is a task on the wire, both directions. ID is the server
// identifier and is empty on a first push.
type TaskDTO struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssignedTo  string     `json:"assigned_to_id,omitempty"`
	SiteID      string     `json:"site_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Accuracy    *float64   `json:"accuracy,omitempty"`
	Address     string     `json:"address,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

// TaskToDTO builds the push payload for a local task.
func TaskToDTO(t *models.Task) TaskDTO {
	return TaskDTO{
		ID:          t.ServerID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		AssignedTo:  t.AssignedTo,
		SiteID:      t.SiteID,
		DueDate:     optionalTime(t.DueDate),
		CompletedAt: optionalTime(t.CompletedAt),
		Latitude:    t.Latitude,
		Longitude:   t.Longitude,
		Accuracy:    t.Accuracy,
		Address:     t.Address,
	}
}

// Apply overwrites the task's domain fields from the wire payload. The
// sync envelope is left alone; the caller decides what the pull means
// for it.
func (d TaskDTO) Apply(t *models.Task) {
	t.ServerID = d.ID
	t.Title = d.Title
	t.Description = d.Description
	t.Status = models.TaskStatus(d.Status)
	t.Priority = models.TaskPriority(d.Priority)
	t.AssignedTo = d.AssignedTo
	t.SiteID = d.SiteID
	t.DueDate = optionalMillis(d.DueDate)
	t.CompletedAt = optionalMillis(d.CompletedAt)
	t.Latitude = d.Latitude
	t.Longitude = d.Longitude
	t.Accuracy = d.Accuracy
	t.Address = d.Address
	if t.CreatedAt == 0 && !d.CreatedAt.IsZero() {
		t.CreatedAt = models.TimeToMillis(d.CreatedAt)
	}
	// Adopting the remote timestamp keeps later conflict comparisons
	// honest: the local row now IS the remote version.
	t.UpdatedAt = models.TimeToMillis(d.UpdatedAt)
}

// UpdatedAtMillis returns the server-side modification time in epoch ms,
// the unit conflict comparisons run in.
func (d TaskDTO) UpdatedAtMillis() int64 {
	return models.TimeToMillis(d.UpdatedAt)
}

// CommentDTO is a task comment pushed to the server. TaskID is the owning
// task's server identifier.
type CommentDTO struct {
	ID        string    `json:"id,omitempty"`
	TaskID    string    `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// UploadResult is the server's answer to a binary upload.
type UploadResult struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

func optionalTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := models.MillisToTime(ms)
	return &t
}

func optionalMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return models.TimeToMillis(*t)
}
