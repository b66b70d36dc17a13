// Package store provides photo and comment repository operations.
package store

import (
	"database/sql"

	"github.com/fieldhq/fieldsync/internal/models"
	"github.com/fieldhq/fieldsync/internal/uuid"
)

// =====================================================
// TaskPhoto Operations
// =====================================================

const photoColumns = `id, task_id, server_id, file_path, file_size, mime_type,
	latitude, longitude, is_synced, needs_upload, upload_progress, last_sync_at,
	created_at, updated_at`

func scanPhoto(row interface{ Scan(...interface{}) error }) (*models.TaskPhoto, error) {
	var p models.TaskPhoto
	var lat, lng sql.NullFloat64
	err := row.Scan(
		&p.ID, &p.TaskID, &p.ServerID, &p.FilePath, &p.FileSize, &p.MimeType,
		&lat, &lng, &p.IsSynced, &p.NeedsUpload, &p.UploadProgress, &p.LastSyncAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lng.Valid {
		p.Longitude = &lng.Float64
	}
	return &p, nil
}

// CreatePhotoTx inserts a photo row inside a caller-owned transaction.
// Photos always enter the store together with the parent task's dirty
// marking, so there is no standalone insert.
func (r *Repository) CreatePhotoTx(tx *sql.Tx, photo *models.TaskPhoto) error {
	now := models.NowMillis()
	if photo.ID == "" {
		photo.ID = models.UUID(uuid.New())
	}
	if photo.CreatedAt == 0 {
		photo.CreatedAt = now
	}
	if photo.UpdatedAt == 0 {
		photo.UpdatedAt = now
	}

	query := `
	INSERT INTO task_photos (` + photoColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query,
		photo.ID, photo.TaskID, photo.ServerID, photo.FilePath, photo.FileSize, photo.MimeType,
		nullFloat(photo.Latitude), nullFloat(photo.Longitude),
		photo.IsSynced, photo.NeedsUpload, photo.UploadProgress, photo.LastSyncAt,
		photo.CreatedAt, photo.UpdatedAt,
	)
	return err
}

// GetPhoto retrieves a photo by local ID.
func (r *Repository) GetPhoto(id string) (*models.TaskPhoto, error) {
	query := `SELECT ` + photoColumns + ` FROM task_photos WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanPhoto(stmt.QueryRow(id))
}

// ListPhotosByTask returns a task's photos, oldest first.
func (r *Repository) ListPhotosByTask(taskID string) ([]*models.TaskPhoto, error) {
	query := `SELECT ` + photoColumns + ` FROM task_photos WHERE task_id = ? ORDER BY created_at ASC`
	rows, err := r.db.Query(query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []*models.TaskPhoto
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// PendingUpload pairs a photo awaiting upload with its parent task's
// server identity. Photos whose parent has never been pushed are excluded;
// the server cannot accept a file for a task it does not know.
type PendingUpload struct {
	Photo        *models.TaskPhoto
	TaskServerID string
}

// ListPendingUploads returns photos ready to upload, oldest first.
func (r *Repository) ListPendingUploads() ([]*PendingUpload, error) {
	query := `
	SELECT p.id, p.task_id, p.server_id, p.file_path, p.file_size, p.mime_type,
		p.latitude, p.longitude, p.is_synced, p.needs_upload, p.upload_progress, p.last_sync_at,
		p.created_at, p.updated_at, t.server_id
	FROM task_photos p
	JOIN tasks t ON t.id = p.task_id
	WHERE p.needs_upload = 1 AND t.server_id != ''
	ORDER BY p.created_at ASC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*PendingUpload
	for rows.Next() {
		var p models.TaskPhoto
		var lat, lng sql.NullFloat64
		var taskServerID string
		err := rows.Scan(
			&p.ID, &p.TaskID, &p.ServerID, &p.FilePath, &p.FileSize, &p.MimeType,
			&lat, &lng, &p.IsSynced, &p.NeedsUpload, &p.UploadProgress, &p.LastSyncAt,
			&p.CreatedAt, &p.UpdatedAt, &taskServerID,
		)
		if err != nil {
			return nil, err
		}
		if lat.Valid {
			p.Latitude = &lat.Float64
		}
		if lng.Valid {
			p.Longitude = &lng.Float64
		}
		uploads = append(uploads, &PendingUpload{Photo: &p, TaskServerID: taskServerID})
	}
	return uploads, rows.Err()
}

// UpdatePhoto writes the full photo row by local ID.
func (r *Repository) UpdatePhoto(photo *models.TaskPhoto) error {
	query := `
	UPDATE task_photos
	SET server_id = ?, file_path = ?, file_size = ?, mime_type = ?,
		latitude = ?, longitude = ?, is_synced = ?, needs_upload = ?,
		upload_progress = ?, last_sync_at = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := r.db.Exec(query,
		photo.ServerID, photo.FilePath, photo.FileSize, photo.MimeType,
		nullFloat(photo.Latitude), nullFloat(photo.Longitude),
		photo.IsSynced, photo.NeedsUpload, photo.UploadProgress, photo.LastSyncAt,
		photo.UpdatedAt, photo.ID,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetPhotoProgress records upload progress without touching other fields.
// Progress writes happen mid-upload and must stay cheap.
func (r *Repository) SetPhotoProgress(id string, percent int) error {
	query := `UPDATE task_photos SET upload_progress = ?, updated_at = ? WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(percent, models.NowMillis(), id)
	return err
}

// =====================================================
// TaskComment Operations
// =====================================================

const commentColumns = `id, task_id, server_id, author_id, text, is_synced, created_at`

// CreateCommentTx inserts a comment row inside a caller-owned transaction,
// paired with the parent task's dirty marking.
func (r *Repository) CreateCommentTx(tx *sql.Tx, comment *models.TaskComment) error {
	if comment.ID == "" {
		comment.ID = models.UUID(uuid.New())
	}
	if comment.CreatedAt == 0 {
		comment.CreatedAt = models.NowMillis()
	}

	query := `
	INSERT INTO task_comments (` + commentColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query,
		comment.ID, comment.TaskID, comment.ServerID, comment.AuthorID,
		comment.Text, comment.IsSynced, comment.CreatedAt,
	)
	return err
}

// ListCommentsByTask returns a task's comments in creation order.
func (r *Repository) ListCommentsByTask(taskID string) ([]*models.TaskComment, error) {
	query := `SELECT ` + commentColumns + ` FROM task_comments WHERE task_id = ? ORDER BY created_at ASC`
	rows, err := r.db.Query(query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectComments(rows)
}

// PendingComment pairs an unsynced comment with its parent task's server
// identity. Comments on never-pushed tasks are excluded and stay pending.
type PendingComment struct {
	Comment      *models.TaskComment
	TaskServerID string
}

// ListPendingComments returns unsynced comments whose parent task is known
// to the server, oldest first so threads replay in order.
func (r *Repository) ListPendingComments() ([]*PendingComment, error) {
	query := `
	SELECT c.id, c.task_id, c.server_id, c.author_id, c.text, c.is_synced, c.created_at, t.server_id
	FROM task_comments c
	JOIN tasks t ON t.id = c.task_id
	WHERE c.is_synced = 0 AND t.server_id != ''
	ORDER BY c.created_at ASC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*PendingComment
	for rows.Next() {
		var c models.TaskComment
		var taskServerID string
		err := rows.Scan(&c.ID, &c.TaskID, &c.ServerID, &c.AuthorID, &c.Text, &c.IsSynced, &c.CreatedAt, &taskServerID)
		if err != nil {
			return nil, err
		}
		pending = append(pending, &PendingComment{Comment: &c, TaskServerID: taskServerID})
	}
	return pending, rows.Err()
}

// MarkCommentSynced records a successful comment push.
func (r *Repository) MarkCommentSynced(id, serverID string) error {
	query := `UPDATE task_comments SET server_id = ?, is_synced = 1 WHERE id = ?`
	result, err := r.db.Exec(query, serverID, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func collectComments(rows *sql.Rows) ([]*models.TaskComment, error) {
	var comments []*models.TaskComment
	for rows.Next() {
		var c models.TaskComment
		err := rows.Scan(&c.ID, &c.TaskID, &c.ServerID, &c.AuthorID, &c.Text, &c.IsSynced, &c.CreatedAt)
		if err != nil {
			return nil, err
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}
