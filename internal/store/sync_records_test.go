// Package store tests for sync queue and conflict log persistence.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fieldhq/fieldsync/internal/models"
)

// makeQueueEntry builds a pending delete entry the way the facade enqueues it.
func makeQueueEntry(recordID string) *models.SyncQueueEntry {
	payload, _ := json.Marshal(map[string]string{"server_id": "srv-" + recordID})
	return &models.SyncQueueEntry{
		Operation:  models.OpDeleteTask,
		Table:      "tasks",
		RecordID:   models.UUID(recordID),
		Payload:    payload,
		MaxRetries: 3,
	}
}

// TestRepository_CreateQueueEntry verifies insert defaults.
func TestRepository_CreateQueueEntry(t *testing.T) {
	_, repo := newTestStore(t)

	entry := makeQueueEntry("r1")
	if err := repo.CreateQueueEntry(entry); err != nil {
		t.Fatalf("CreateQueueEntry() failed: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("CreateQueueEntry() should assign an ID")
	}
	if entry.Status != models.QueuePending {
		t.Errorf("Status = %q, want pending", entry.Status)
	}

	got, err := repo.GetQueueEntry(entry.ID.String())
	if err != nil {
		t.Fatalf("GetQueueEntry() failed: %v", err)
	}
	if got.Operation != models.OpDeleteTask {
		t.Errorf("Operation = %q, want %q", got.Operation, models.OpDeleteTask)
	}
	if got.Table != "tasks" {
		t.Errorf("Table = %q, want 'tasks'", got.Table)
	}

	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("payload did not survive round trip: %v", err)
	}
	if payload["server_id"] != "srv-r1" {
		t.Errorf("payload server_id = %q, want 'srv-r1'", payload["server_id"])
	}
}

// TestRepository_ListDueQueueEntries verifies due selection and ordering.
func TestRepository_ListDueQueueEntries(t *testing.T) {
	_, repo := newTestStore(t)

	now := int64(10000)

	due := makeQueueEntry("due")
	due.NextRetryAt = now - 1
	due.CreatedAt = 2000

	dueOlder := makeQueueEntry("due-older")
	dueOlder.NextRetryAt = now - 1
	dueOlder.CreatedAt = 1000

	urgent := makeQueueEntry("urgent")
	urgent.Priority = 5
	urgent.NextRetryAt = now
	urgent.CreatedAt = 3000

	future := makeQueueEntry("future")
	future.NextRetryAt = now + 5000

	finished := makeQueueEntry("finished")
	finished.Status = models.QueueCompleted

	for _, e := range []*models.SyncQueueEntry{due, dueOlder, urgent, future, finished} {
		if err := repo.CreateQueueEntry(e); err != nil {
			t.Fatalf("CreateQueueEntry(%s) failed: %v", e.RecordID, err)
		}
	}

	entries, err := repo.ListDueQueueEntries(now)
	if err != nil {
		t.Fatalf("ListDueQueueEntries() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("due count = %d, want 3", len(entries))
	}

	// Highest priority first, then oldest created.
	order := []string{entries[0].RecordID.String(), entries[1].RecordID.String(), entries[2].RecordID.String()}
	want := []string{"urgent", "due-older", "due"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("due order = %v, want %v", order, want)
		}
	}
}

// TestRepository_UpdateQueueEntry verifies retry bookkeeping writes.
func TestRepository_UpdateQueueEntry(t *testing.T) {
	_, repo := newTestStore(t)

	entry := makeQueueEntry("r2")
	if err := repo.CreateQueueEntry(entry); err != nil {
		t.Fatalf("CreateQueueEntry() failed: %v", err)
	}

	entry.RetryCount = 1
	entry.NextRetryAt = 99999
	entry.LastError = "connection refused"
	if err := repo.UpdateQueueEntry(entry); err != nil {
		t.Fatalf("UpdateQueueEntry() failed: %v", err)
	}

	got, err := repo.GetQueueEntry(entry.ID.String())
	if err != nil {
		t.Fatalf("GetQueueEntry() failed: %v", err)
	}
	if got.RetryCount != 1 || got.NextRetryAt != 99999 {
		t.Errorf("retry bookkeeping = (%d, %d), want (1, 99999)", got.RetryCount, got.NextRetryAt)
	}
	if got.LastError != "connection refused" {
		t.Errorf("LastError = %q", got.LastError)
	}
}

// TestRepository_UpdateQueueEntry_missing verifies sql.ErrNoRows.
func TestRepository_UpdateQueueEntry_missing(t *testing.T) {
	_, repo := newTestStore(t)

	ghost := makeQueueEntry("ghost")
	ghost.ID = "not-there"
	if err := repo.UpdateQueueEntry(ghost); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("UpdateQueueEntry(missing) error = %v, want sql.ErrNoRows", err)
	}
}

// TestRepository_CountQueueByStatus verifies the status breakdown.
func TestRepository_CountQueueByStatus(t *testing.T) {
	_, repo := newTestStore(t)

	for i, status := range []string{
		models.QueuePending, models.QueuePending, models.QueueFailed, models.QueueCompleted,
	} {
		entry := makeQueueEntry(string(rune('a' + i)))
		entry.Status = status
		if err := repo.CreateQueueEntry(entry); err != nil {
			t.Fatalf("CreateQueueEntry() failed: %v", err)
		}
	}

	counts, err := repo.CountQueueByStatus()
	if err != nil {
		t.Fatalf("CountQueueByStatus() failed: %v", err)
	}
	if counts[models.QueuePending] != 2 {
		t.Errorf("pending = %d, want 2", counts[models.QueuePending])
	}
	if counts[models.QueueFailed] != 1 {
		t.Errorf("failed = %d, want 1", counts[models.QueueFailed])
	}
	if counts[models.QueueCompleted] != 1 {
		t.Errorf("completed = %d, want 1", counts[models.QueueCompleted])
	}
}

// TestRepository_RetryFailedQueueEntries verifies the manual retry reset.
func TestRepository_RetryFailedQueueEntries(t *testing.T) {
	_, repo := newTestStore(t)

	failed := makeQueueEntry("f1")
	failed.Status = models.QueueFailed
	failed.RetryCount = 3
	failed.NextRetryAt = 12345
	failed.LastError = "gone"
	if err := repo.CreateQueueEntry(failed); err != nil {
		t.Fatalf("CreateQueueEntry() failed: %v", err)
	}
	pending := makeQueueEntry("p1")
	if err := repo.CreateQueueEntry(pending); err != nil {
		t.Fatalf("CreateQueueEntry() failed: %v", err)
	}

	reset, err := repo.RetryFailedQueueEntries()
	if err != nil {
		t.Fatalf("RetryFailedQueueEntries() failed: %v", err)
	}
	if reset != 1 {
		t.Errorf("reset count = %d, want 1", reset)
	}

	got, err := repo.GetQueueEntry(failed.ID.String())
	if err != nil {
		t.Fatalf("GetQueueEntry() failed: %v", err)
	}
	if got.Status != models.QueuePending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.RetryCount != 0 || got.NextRetryAt != 0 || got.LastError != "" {
		t.Errorf("retry budget not reset: %+v", got)
	}
}

// TestRepository_PurgeCompletedQueueEntries verifies cutoff-based cleanup.
func TestRepository_PurgeCompletedQueueEntries(t *testing.T) {
	db, repo := newTestStore(t)

	old := makeQueueEntry("old")
	old.Status = models.QueueCompleted
	recent := makeQueueEntry("recent")
	recent.Status = models.QueueCompleted
	keeper := makeQueueEntry("keeper")
	for _, e := range []*models.SyncQueueEntry{old, recent, keeper} {
		if err := repo.CreateQueueEntry(e); err != nil {
			t.Fatalf("CreateQueueEntry() failed: %v", err)
		}
	}

	// Backdate the old entry past the cutoff. createQueueEntry always stamps
	// updated_at with the current time, so adjust the row directly.
	if _, err := db.Exec(`UPDATE sync_queue SET updated_at = 1000 WHERE id = ?`, old.ID); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	purged, err := repo.PurgeCompletedQueueEntries(2000)
	if err != nil {
		t.Fatalf("PurgeCompletedQueueEntries() failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if _, err := repo.GetQueueEntry(old.ID.String()); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("old entry should be gone, got err = %v", err)
	}
	if _, err := repo.GetQueueEntry(recent.ID.String()); err != nil {
		t.Errorf("recent completed entry should survive: %v", err)
	}
	if _, err := repo.GetQueueEntry(keeper.ID.String()); err != nil {
		t.Errorf("pending entry should survive: %v", err)
	}
}

// TestRepository_RecordConflict verifies one open conflict per task.
func TestRepository_RecordConflict(t *testing.T) {
	_, repo := newTestStore(t)

	task := makeTask("contested")
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	if err := repo.RecordConflict(task.ID, 1000, 2000, models.ConflictSourcePush); err != nil {
		t.Fatalf("RecordConflict() failed: %v", err)
	}
	// A second detection refreshes the open entry instead of stacking a new one.
	if err := repo.RecordConflict(task.ID, 1500, 2500, models.ConflictSourcePull); err != nil {
		t.Fatalf("second RecordConflict() failed: %v", err)
	}

	open, err := repo.ListOpenConflicts()
	if err != nil {
		t.Fatalf("ListOpenConflicts() failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open conflicts = %d, want 1", len(open))
	}
	if open[0].LocalUpdatedAt != 1500 || open[0].RemoteUpdatedAt != 2500 {
		t.Errorf("timestamps = (%d, %d), want refreshed (1500, 2500)", open[0].LocalUpdatedAt, open[0].RemoteUpdatedAt)
	}
	if open[0].Source != models.ConflictSourcePull {
		t.Errorf("Source = %q, want %q", open[0].Source, models.ConflictSourcePull)
	}
	if !open[0].Open() {
		t.Error("entry should report itself open")
	}
}

// TestRepository_ResolveConflictLog verifies closing and re-opening.
func TestRepository_ResolveConflictLog(t *testing.T) {
	_, repo := newTestStore(t)

	task := makeTask("resolved")
	if err := repo.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if err := repo.RecordConflict(task.ID, 1000, 2000, models.ConflictSourcePush); err != nil {
		t.Fatalf("RecordConflict() failed: %v", err)
	}

	if err := repo.ResolveConflictLog(task.ID, models.ResolutionUseLocal); err != nil {
		t.Fatalf("ResolveConflictLog() failed: %v", err)
	}

	open, err := repo.ListOpenConflicts()
	if err != nil {
		t.Fatalf("ListOpenConflicts() failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open conflicts after resolve = %d, want 0", len(open))
	}

	// A fresh detection after resolution opens a new entry.
	if err := repo.RecordConflict(task.ID, 3000, 4000, models.ConflictSourcePull); err != nil {
		t.Fatalf("RecordConflict() after resolve failed: %v", err)
	}
	open, err = repo.ListOpenConflicts()
	if err != nil {
		t.Fatalf("ListOpenConflicts() failed: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("open conflicts = %d, want 1 new entry", len(open))
	}
}
