// Package store tests for photo and comment persistence.
package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/fieldhq/fieldsync/internal/models"
)

// addPhoto inserts a photo the way the service facade does, inside a
// transaction alongside the parent task's dirty marking.
func addPhoto(t *testing.T, db *DB, repo *Repository, photo *models.TaskPhoto) {
	t.Helper()
	err := db.WithTx(func(tx *sql.Tx) error {
		return repo.CreatePhotoTx(tx, photo)
	})
	if err != nil {
		t.Fatalf("CreatePhotoTx() failed: %v", err)
	}
}

// addComment inserts a comment in a transaction.
func addComment(t *testing.T, db *DB, repo *Repository, comment *models.TaskComment) {
	t.Helper()
	err := db.WithTx(func(tx *sql.Tx) error {
		return repo.CreateCommentTx(tx, comment)
	})
	if err != nil {
		t.Fatalf("CreateCommentTx() failed: %v", err)
	}
}

// TestRepository_PhotoRoundTrip verifies photo insert and read defaults.
func TestRepository_PhotoRoundTrip(t *testing.T) {
	db, repo := newTestStore(t)

	task := makeTask("document leak")
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	lat := -33.86
	photo := &models.TaskPhoto{
		TaskID:      task.ID,
		FilePath:    "/data/photos/leak_01.jpg",
		FileSize:    204800,
		MimeType:    "image/jpeg",
		Latitude:    &lat,
		NeedsUpload: true,
	}
	addPhoto(t, db, repo, photo)

	if photo.ID == "" {
		t.Fatal("CreatePhotoTx() should assign a local ID")
	}

	got, err := repo.GetPhoto(photo.ID.String())
	if err != nil {
		t.Fatalf("GetPhoto() failed: %v", err)
	}
	if got.FilePath != "/data/photos/leak_01.jpg" {
		t.Errorf("FilePath = %q", got.FilePath)
	}
	if got.Latitude == nil || *got.Latitude != lat {
		t.Errorf("Latitude = %v, want %v", got.Latitude, lat)
	}
	if got.Longitude != nil {
		t.Errorf("Longitude = %v, want nil", got.Longitude)
	}
	if !got.NeedsUpload || got.IsSynced {
		t.Error("new photo should need upload and be unsynced")
	}
	if got.UploadProgress != 0 {
		t.Errorf("UploadProgress = %d, want 0", got.UploadProgress)
	}
}

// TestRepository_ListPhotosByTask verifies per-task listing in creation order.
func TestRepository_ListPhotosByTask(t *testing.T) {
	db, repo := newTestStore(t)

	task := makeTask("survey roof")
	other := makeTask("other")
	for _, tk := range []*models.Task{task, other} {
		if err := repo.CreateTask(tk); err != nil {
			t.Fatalf("CreateTask() failed: %v", err)
		}
	}

	first := &models.TaskPhoto{TaskID: task.ID, FilePath: "/p/1.jpg", NeedsUpload: true, CreatedAt: 1000, UpdatedAt: 1000}
	second := &models.TaskPhoto{TaskID: task.ID, FilePath: "/p/2.jpg", NeedsUpload: true, CreatedAt: 2000, UpdatedAt: 2000}
	elsewhere := &models.TaskPhoto{TaskID: other.ID, FilePath: "/p/3.jpg", NeedsUpload: true}
	addPhoto(t, db, repo, second)
	addPhoto(t, db, repo, first)
	addPhoto(t, db, repo, elsewhere)

	photos, err := repo.ListPhotosByTask(task.ID.String())
	if err != nil {
		t.Fatalf("ListPhotosByTask() failed: %v", err)
	}
	if len(photos) != 2 {
		t.Fatalf("photo count = %d, want 2", len(photos))
	}
	if photos[0].FilePath != "/p/1.jpg" || photos[1].FilePath != "/p/2.jpg" {
		t.Errorf("photos out of creation order: [%s, %s]", photos[0].FilePath, photos[1].FilePath)
	}
}

// TestRepository_ListPendingUploads verifies the parent server-identity gate.
func TestRepository_ListPendingUploads(t *testing.T) {
	db, repo := newTestStore(t)

	pushed := makeTask("pushed parent")
	pushed.ServerID = "srv-1"
	unpushed := makeTask("unpushed parent")
	for _, tk := range []*models.Task{pushed, unpushed} {
		if err := repo.CreateTask(tk); err != nil {
			t.Fatalf("CreateTask() failed: %v", err)
		}
	}

	ready := &models.TaskPhoto{TaskID: pushed.ID, FilePath: "/p/ready.jpg", NeedsUpload: true}
	held := &models.TaskPhoto{TaskID: unpushed.ID, FilePath: "/p/held.jpg", NeedsUpload: true}
	done := &models.TaskPhoto{TaskID: pushed.ID, FilePath: "/p/done.jpg", NeedsUpload: false, IsSynced: true}
	addPhoto(t, db, repo, ready)
	addPhoto(t, db, repo, held)
	addPhoto(t, db, repo, done)

	uploads, err := repo.ListPendingUploads()
	if err != nil {
		t.Fatalf("ListPendingUploads() failed: %v", err)
	}
	if len(uploads) != 1 {
		t.Fatalf("pending count = %d, want 1", len(uploads))
	}
	if uploads[0].Photo.FilePath != "/p/ready.jpg" {
		t.Errorf("pending photo = %q, want '/p/ready.jpg'", uploads[0].Photo.FilePath)
	}
	if uploads[0].TaskServerID != "srv-1" {
		t.Errorf("TaskServerID = %q, want 'srv-1'", uploads[0].TaskServerID)
	}
}

// TestRepository_UpdatePhoto verifies the upload bookkeeping round trip.
func TestRepository_UpdatePhoto(t *testing.T) {
	db, repo := newTestStore(t)

	task := makeTask("with photo")
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	photo := &models.TaskPhoto{TaskID: task.ID, FilePath: "/p/x.jpg", NeedsUpload: true}
	addPhoto(t, db, repo, photo)

	photo.MarkUploaded("ph-srv-7", models.NowMillis())
	if err := repo.UpdatePhoto(photo); err != nil {
		t.Fatalf("UpdatePhoto() failed: %v", err)
	}

	got, err := repo.GetPhoto(photo.ID.String())
	if err != nil {
		t.Fatalf("GetPhoto() failed: %v", err)
	}
	if got.ServerID != "ph-srv-7" {
		t.Errorf("ServerID = %q, want 'ph-srv-7'", got.ServerID)
	}
	if got.NeedsUpload || !got.IsSynced {
		t.Error("uploaded photo should be synced and not need upload")
	}
	if got.UploadProgress != 100 {
		t.Errorf("UploadProgress = %d, want 100", got.UploadProgress)
	}
}

// TestRepository_UpdatePhoto_missing verifies sql.ErrNoRows on unknown rows.
func TestRepository_UpdatePhoto_missing(t *testing.T) {
	_, repo := newTestStore(t)

	ghost := &models.TaskPhoto{ID: "nope", FilePath: "/p/ghost.jpg"}
	if err := repo.UpdatePhoto(ghost); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("UpdatePhoto(missing) error = %v, want sql.ErrNoRows", err)
	}
}

// TestRepository_SetPhotoProgress verifies the cheap progress write.
func TestRepository_SetPhotoProgress(t *testing.T) {
	db, repo := newTestStore(t)

	task := makeTask("uploading")
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	photo := &models.TaskPhoto{TaskID: task.ID, FilePath: "/p/u.jpg", NeedsUpload: true}
	addPhoto(t, db, repo, photo)

	if err := repo.SetPhotoProgress(photo.ID.String(), 62); err != nil {
		t.Fatalf("SetPhotoProgress() failed: %v", err)
	}

	got, err := repo.GetPhoto(photo.ID.String())
	if err != nil {
		t.Fatalf("GetPhoto() failed: %v", err)
	}
	if got.UploadProgress != 62 {
		t.Errorf("UploadProgress = %d, want 62", got.UploadProgress)
	}
	if !got.NeedsUpload {
		t.Error("progress write must not clear needs_upload")
	}
}

// TestRepository_CommentRoundTrip verifies comment insert and listing order.
func TestRepository_CommentRoundTrip(t *testing.T) {
	db, repo := newTestStore(t)

	task := makeTask("discussed")
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	first := &models.TaskComment{TaskID: task.ID, AuthorID: "u1", Text: "found it", CreatedAt: 1000}
	second := &models.TaskComment{TaskID: task.ID, AuthorID: "u2", Text: "on my way", CreatedAt: 2000}
	addComment(t, db, repo, second)
	addComment(t, db, repo, first)

	comments, err := repo.ListCommentsByTask(task.ID.String())
	if err != nil {
		t.Fatalf("ListCommentsByTask() failed: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("comment count = %d, want 2", len(comments))
	}
	if comments[0].Text != "found it" || comments[1].Text != "on my way" {
		t.Errorf("comments out of creation order: [%s, %s]", comments[0].Text, comments[1].Text)
	}
	if comments[0].ID == "" {
		t.Error("CreateCommentTx() should assign a local ID")
	}
}

// TestRepository_ListPendingComments verifies the parent server-identity gate
// and oldest-first replay order.
func TestRepository_ListPendingComments(t *testing.T) {
	db, repo := newTestStore(t)

	pushed := makeTask("pushed")
	pushed.ServerID = "srv-9"
	unpushed := makeTask("unpushed")
	for _, tk := range []*models.Task{pushed, unpushed} {
		if err := repo.CreateTask(tk); err != nil {
			t.Fatalf("CreateTask() failed: %v", err)
		}
	}

	late := &models.TaskComment{TaskID: pushed.ID, AuthorID: "u1", Text: "later", CreatedAt: 2000}
	early := &models.TaskComment{TaskID: pushed.ID, AuthorID: "u1", Text: "earlier", CreatedAt: 1000}
	held := &models.TaskComment{TaskID: unpushed.ID, AuthorID: "u1", Text: "held back"}
	synced := &models.TaskComment{TaskID: pushed.ID, AuthorID: "u2", Text: "already up", IsSynced: true}
	for _, c := range []*models.TaskComment{late, early, held, synced} {
		addComment(t, db, repo, c)
	}

	pending, err := repo.ListPendingComments()
	if err != nil {
		t.Fatalf("ListPendingComments() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending count = %d, want 2", len(pending))
	}
	if pending[0].Comment.Text != "earlier" || pending[1].Comment.Text != "later" {
		t.Errorf("pending order = [%s, %s], want oldest first", pending[0].Comment.Text, pending[1].Comment.Text)
	}
	if pending[0].TaskServerID != "srv-9" {
		t.Errorf("TaskServerID = %q, want 'srv-9'", pending[0].TaskServerID)
	}
}

// TestRepository_MarkCommentSynced verifies push acknowledgement.
func TestRepository_MarkCommentSynced(t *testing.T) {
	db, repo := newTestStore(t)

	task := makeTask("ack")
	task.ServerID = "srv-2"
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	comment := &models.TaskComment{TaskID: task.ID, AuthorID: "u1", Text: "push me"}
	addComment(t, db, repo, comment)

	if err := repo.MarkCommentSynced(comment.ID.String(), "c-srv-5"); err != nil {
		t.Fatalf("MarkCommentSynced() failed: %v", err)
	}

	comments, err := repo.ListCommentsByTask(task.ID.String())
	if err != nil {
		t.Fatalf("ListCommentsByTask() failed: %v", err)
	}
	if !comments[0].IsSynced {
		t.Error("comment should be synced after acknowledgement")
	}
	if comments[0].ServerID != "c-srv-5" {
		t.Errorf("ServerID = %q, want 'c-srv-5'", comments[0].ServerID)
	}

	pending, err := repo.ListPendingComments()
	if err != nil {
		t.Fatalf("ListPendingComments() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending count after sync = %d, want 0", len(pending))
	}
}
