// Package store provides sync queue and conflict log persistence.
package store

import (
	"database/sql"

	"github.com/fieldhq/fieldsync/internal/models"
	"github.com/fieldhq/fieldsync/internal/uuid"
)

// =====================================================
// SyncQueue Operations
// =====================================================

const queueColumns = `id, operation, table_name, record_id, payload, priority,
	retry_count, max_retries, next_retry_at, last_error, status, created_at, updated_at`

func scanQueueEntry(row interface{ Scan(...interface{}) error }) (*models.SyncQueueEntry, error) {
	var e models.SyncQueueEntry
	var payload []byte
	err := row.Scan(
		&e.ID, &e.Operation, &e.Table, &e.RecordID, &payload, &e.Priority,
		&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.LastError, &e.Status,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}

// CreateQueueEntry inserts a queue entry.
func (r *Repository) CreateQueueEntry(entry *models.SyncQueueEntry) error {
	return r.createQueueEntry(r.db, entry)
}

// CreateQueueEntryTx inserts a queue entry inside a caller-owned
// transaction. Deleting a pushed task writes its tombstone entry in the
// same transaction that removes the row.
func (r *Repository) CreateQueueEntryTx(tx *sql.Tx, entry *models.SyncQueueEntry) error {
	return r.createQueueEntry(tx, entry)
}

func (r *Repository) createQueueEntry(q dbtx, entry *models.SyncQueueEntry) error {
	now := models.NowMillis()
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = models.QueuePending
	}

	query := `
	INSERT INTO sync_queue (` + queueColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.Exec(query,
		entry.ID, entry.Operation, entry.Table, entry.RecordID, []byte(entry.Payload), entry.Priority,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.LastError, entry.Status,
		entry.CreatedAt, entry.UpdatedAt,
	)
	return err
}

// GetQueueEntry retrieves a queue entry by ID.
func (r *Repository) GetQueueEntry(id string) (*models.SyncQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanQueueEntry(stmt.QueryRow(id))
}

// ListDueQueueEntries returns pending entries whose retry time has come,
// highest priority first, then oldest first.
func (r *Repository) ListDueQueueEntries(now int64) ([]*models.SyncQueueEntry, error) {
	query := `
	SELECT ` + queueColumns + ` FROM sync_queue
	WHERE status = ? AND next_retry_at <= ?
	ORDER BY priority DESC, created_at ASC
	`
	rows, err := r.db.Query(query, models.QueuePending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.SyncQueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateQueueEntry writes retry bookkeeping and status by ID.
func (r *Repository) UpdateQueueEntry(entry *models.SyncQueueEntry) error {
	entry.UpdatedAt = models.NowMillis()
	query := `
	UPDATE sync_queue
	SET retry_count = ?, next_retry_at = ?, last_error = ?, status = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := r.db.Exec(query,
		entry.RetryCount, entry.NextRetryAt, entry.LastError, entry.Status,
		entry.UpdatedAt, entry.ID,
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

// CountQueueByStatus returns entry counts grouped by status.
func (r *Repository) CountQueueByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// RetryFailedQueueEntries moves permanently failed entries back to pending
// with a fresh retry budget. Used when the operator asks for a manual
// retry after fixing whatever kept failing.
func (r *Repository) RetryFailedQueueEntries() (int, error) {
	query := `
	UPDATE sync_queue
	SET status = ?, retry_count = 0, next_retry_at = 0, last_error = '', updated_at = ?
	WHERE status = ?
	`
	result, err := r.db.Exec(query, models.QueuePending, models.NowMillis(), models.QueueFailed)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// PurgeCompletedQueueEntries removes completed entries older than the
// cutoff so the table does not grow without bound.
func (r *Repository) PurgeCompletedQueueEntries(olderThan int64) (int, error) {
	result, err := r.db.Exec(
		`DELETE FROM sync_queue WHERE status = ? AND updated_at < ?`,
		models.QueueCompleted, olderThan,
	)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// =====================================================
// ConflictLog Operations
// =====================================================

const conflictColumns = `id, task_id, local_updated_at, remote_updated_at, source, resolution, detected_at, resolved_at`

// RecordConflict opens a conflict log entry for a task, or refreshes the
// timestamps of the existing open entry. One open conflict per task.
func (r *Repository) RecordConflict(taskID models.UUID, localUpdatedAt, remoteUpdatedAt int64, source string) error {
	now := models.NowMillis()

	result, err := r.db.Exec(`
	UPDATE conflict_log
	SET local_updated_at = ?, remote_updated_at = ?, source = ?, detected_at = ?
	WHERE task_id = ? AND resolution = ?
	`, localUpdatedAt, remoteUpdatedAt, source, now, taskID, models.ResolutionPending)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	_, err = r.db.Exec(`
	INSERT INTO conflict_log (`+conflictColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, models.UUID(uuid.New()), taskID, localUpdatedAt, remoteUpdatedAt, source, models.ResolutionPending, now)
	return err
}

// ResolveConflictLog closes the open conflict entry for a task.
func (r *Repository) ResolveConflictLog(taskID models.UUID, resolution string) error {
	_, err := r.db.Exec(`
	UPDATE conflict_log
	SET resolution = ?, resolved_at = ?
	WHERE task_id = ? AND resolution = ?
	`, resolution, models.NowMillis(), taskID, models.ResolutionPending)
	return err
}

// ListOpenConflicts returns unresolved conflict entries, newest first.
func (r *Repository) ListOpenConflicts() ([]*models.ConflictLog, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflict_log WHERE resolution = ? ORDER BY detected_at DESC`
	rows, err := r.db.Query(query, models.ResolutionPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*models.ConflictLog
	for rows.Next() {
		var c models.ConflictLog
		err := rows.Scan(&c.ID, &c.TaskID, &c.LocalUpdatedAt, &c.RemoteUpdatedAt,
			&c.Source, &c.Resolution, &c.DetectedAt, &c.ResolvedAt)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}
