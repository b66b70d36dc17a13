// Package queue provides durable, retry-capable sync intents for operations
// that dirty-flag tracking cannot express, notably task deletions whose rows
// are already gone and photo uploads that need backoff bookkeeping.
package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fieldhq/fieldsync/internal/errors"
	"github.com/fieldhq/fieldsync/internal/logging"
	"github.com/fieldhq/fieldsync/internal/models"
	"github.com/fieldhq/fieldsync/internal/store"
)

const (
	// DefaultMaxRetries is the retry budget for a queued intent.
	DefaultMaxRetries = 3

	// DefaultMaxPending caps the pending backlog a device may accumulate.
	DefaultMaxPending = 1000
)

// Payload is a typed queue intent. Each payload kind knows the operation
// and target table it belongs to, so entries are validated when enqueued
// rather than when a malformed blob finally reaches the dispatcher.
type Payload interface {
	// Operation returns the queue operation identifier.
	Operation() string

	// Table returns the target table name.
	Table() string

	// Validate checks the payload fields before enqueueing.
	Validate() error
}

// DeleteTaskPayload asks the dispatcher to delete a task on the server.
// The local row is gone by the time this entry runs, so the entry carries
// the server identity snapshot taken at deletion time.
type DeleteTaskPayload struct {
	ServerID string `json:"server_id"`
}

// Operation returns the delete-task operation identifier.
func (DeleteTaskPayload) Operation() string { return models.OpDeleteTask }

// Table returns the tasks table name.
func (DeleteTaskPayload) Table() string { return "tasks" }

// Validate checks the server identity snapshot is present.
func (p DeleteTaskPayload) Validate() error {
	if p.ServerID == "" {
		return errors.New(errors.ErrQueuePayload, "delete payload requires a server id")
	}
	return nil
}

// UploadPhotoPayload asks the dispatcher to upload a photo's binary.
// The photo row itself carries needs_upload; a queue entry exists only
// when the upload needs retry bookkeeping beyond the per-pass scan.
type UploadPhotoPayload struct {
	PhotoID string `json:"photo_id"`
}

// Operation returns the upload-photo operation identifier.
func (UploadPhotoPayload) Operation() string { return models.OpUploadPhoto }

// Table returns the task_photos table name.
func (UploadPhotoPayload) Table() string { return "task_photos" }

// Validate checks the photo reference is present.
func (p UploadPhotoPayload) Validate() error {
	if p.PhotoID == "" {
		return errors.New(errors.ErrQueuePayload, "upload payload requires a photo id")
	}
	return nil
}

// Decode rebuilds the typed payload of a stored entry.
func Decode(entry *models.SyncQueueEntry) (Payload, error) {
	switch entry.Operation {
	case models.OpDeleteTask:
		var p DeleteTaskPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return nil, errors.Wrap(errors.ErrQueuePayload, "malformed delete payload", err)
		}
		return p, nil
	case models.OpUploadPhoto:
		var p UploadPhotoPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return nil, errors.Wrap(errors.ErrQueuePayload, "malformed upload payload", err)
		}
		return p, nil
	default:
		return nil, errors.New(errors.ErrQueuePayload, "unknown queue operation: "+entry.Operation)
	}
}

// Backoff returns the delay before the next attempt after retryCount
// recorded failures: (retryCount+1)^2 seconds, so 1s, 4s, 9s.
func Backoff(retryCount int) time.Duration {
	n := time.Duration(retryCount + 1)
	return n * n * time.Second
}

// Queue manages durable sync intents backed by the sync_queue table.
type Queue struct {
	repo       *store.Repository
	maxPending int
	nowFn      func() time.Time
}

// New creates a store-backed Queue.
func New(repo *store.Repository) *Queue {
	return &Queue{
		repo:       repo,
		maxPending: DefaultMaxPending,
		nowFn:      time.Now,
	}
}

// Enqueue records a typed intent, due immediately.
func (q *Queue) Enqueue(recordID string, payload Payload) (*models.SyncQueueEntry, error) {
	counts, err := q.repo.CountQueueByStatus()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to inspect queue backlog", err)
	}
	if counts[models.QueuePending] >= q.maxPending {
		return nil, errors.New(errors.ErrQueueFull, "sync queue backlog limit reached")
	}

	entry, err := q.buildEntry(recordID, payload)
	if err != nil {
		return nil, err
	}
	if err := q.repo.CreateQueueEntry(entry); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to enqueue intent", err)
	}

	logging.Debug("queued sync intent", map[string]interface{}{
		"operation": entry.Operation,
		"record_id": entry.RecordID,
	})
	return entry, nil
}

// EnqueueTx records a typed intent inside a caller-owned transaction.
// Used by the delete path so the tombstone commits or rolls back together
// with the row removal. The backlog cap is not enforced here; a deletion
// already applied locally must never be dropped.
func (q *Queue) EnqueueTx(tx *sql.Tx, recordID string, payload Payload) (*models.SyncQueueEntry, error) {
	entry, err := q.buildEntry(recordID, payload)
	if err != nil {
		return nil, err
	}
	if err := q.repo.CreateQueueEntryTx(tx, entry); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to enqueue intent", err)
	}
	return entry, nil
}

func (q *Queue) buildEntry(recordID string, payload Payload) (*models.SyncQueueEntry, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrQueuePayload, "failed to encode payload", err)
	}

	return &models.SyncQueueEntry{
		Operation:   payload.Operation(),
		Table:       payload.Table(),
		RecordID:    models.UUID(recordID),
		Payload:     raw,
		Priority:    priorityFor(payload),
		MaxRetries:  DefaultMaxRetries,
		NextRetryAt: models.TimeToMillis(q.nowFn()),
		Status:      models.QueuePending,
	}, nil
}

// Deletions run before photo retries within a due set. A photo upload for
// a task the server just deleted would be rejected anyway.
func priorityFor(payload Payload) int {
	if payload.Operation() == models.OpDeleteTask {
		return 1
	}
	return 0
}

// Due returns entries ready to run, highest priority first.
func (q *Queue) Due() ([]*models.SyncQueueEntry, error) {
	return q.repo.ListDueQueueEntries(models.TimeToMillis(q.nowFn()))
}

// MarkProcessing transitions an entry to processing before dispatch.
func (q *Queue) MarkProcessing(entry *models.SyncQueueEntry) error {
	entry.Status = models.QueueProcessing
	return q.repo.UpdateQueueEntry(entry)
}

// Release returns a claimed entry to pending without touching its retry
// bookkeeping. Used when a pass aborts on connectivity loss: the entry
// did not fail, the link did, and the next pass should try it fresh.
func (q *Queue) Release(entry *models.SyncQueueEntry) error {
	entry.Status = models.QueuePending
	return q.repo.UpdateQueueEntry(entry)
}

// Complete records a successful dispatch. Completed entries stay in the
// table until purged so recent history is inspectable.
func (q *Queue) Complete(entry *models.SyncQueueEntry) error {
	entry.Status = models.QueueCompleted
	entry.LastError = ""
	return q.repo.UpdateQueueEntry(entry)
}

// Fail records a failed dispatch. While the retry budget lasts the entry
// returns to pending with a quadratic backoff delay; once exhausted it
// stays failed and surfaces in the pending-sync counts as sync debt.
func (q *Queue) Fail(entry *models.SyncQueueEntry, cause error) error {
	delay := Backoff(entry.RetryCount)
	entry.RetryCount++
	if cause != nil {
		entry.LastError = cause.Error()
	}

	if entry.Exhausted() {
		entry.Status = models.QueueFailed
		logging.ErrorWithCode("sync intent exhausted retries", string(errors.ErrQueueExhausted), cause,
			map[string]interface{}{
				"operation":   entry.Operation,
				"record_id":   entry.RecordID,
				"retry_count": entry.RetryCount,
			})
		return q.repo.UpdateQueueEntry(entry)
	}

	entry.Status = models.QueuePending
	entry.NextRetryAt = models.TimeToMillis(q.nowFn().Add(delay))
	logging.Warn("sync intent failed, will retry", map[string]interface{}{
		"operation":     entry.Operation,
		"record_id":     entry.RecordID,
		"retry_count":   entry.RetryCount,
		"retry_in_secs": delay.Seconds(),
	})
	return q.repo.UpdateQueueEntry(entry)
}

// RetryFailed resets permanently failed entries to pending with a fresh
// budget. Exposed to the operator through the control API.
func (q *Queue) RetryFailed() (int, error) {
	return q.repo.RetryFailedQueueEntries()
}

// Purge removes completed entries older than the retention window.
func (q *Queue) Purge(retention time.Duration) (int, error) {
	cutoff := models.TimeToMillis(q.nowFn().Add(-retention))
	return q.repo.PurgeCompletedQueueEntries(cutoff)
}

// Stats returns the entry counts per status.
func (q *Queue) Stats() (map[string]int, error) {
	return q.repo.CountQueueByStatus()
}
