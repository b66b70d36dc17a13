// Package store provides durable settings and aggregate queries.
package store

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/fieldhq/fieldsync/internal/models"
)

// Defaults applied when a setting has never been written.
const (
	DefaultSyncInterval = 5 * time.Minute
)

// GetSetting returns the stored value for key, or "" when the key has
// never been written.
func (r *Repository) GetSetting(key string) (string, error) {
	query := `SELECT value FROM settings WHERE key = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return "", err
	}

	var value string
	err = stmt.QueryRow(key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting writes a setting, replacing any previous value.
func (r *Repository) SetSetting(key, value string) error {
	query := `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, key, value, models.NowMillis())
	return err
}

// SyncEnabled reports whether automatic sync is switched on.
// Defaults to true when never set.
func (r *Repository) SyncEnabled() (bool, error) {
	value, err := r.GetSetting(models.SettingSyncEnabled)
	if err != nil {
		return false, err
	}
	if value == "" {
		return true, nil
	}
	return value == "true", nil
}

// SetSyncEnabled switches automatic sync on or off.
func (r *Repository) SetSyncEnabled(enabled bool) error {
	return r.SetSetting(models.SettingSyncEnabled, strconv.FormatBool(enabled))
}

// SyncInterval returns the configured periodic sync interval.
// Defaults to DefaultSyncInterval when never set or unparsable.
func (r *Repository) SyncInterval() (time.Duration, error) {
	value, err := r.GetSetting(models.SettingSyncInterval)
	if err != nil {
		return 0, err
	}
	ms, parseErr := strconv.ParseInt(value, 10, 64)
	if value == "" || parseErr != nil || ms <= 0 {
		return DefaultSyncInterval, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// SetSyncInterval stores the periodic sync interval.
func (r *Repository) SetSyncInterval(interval time.Duration) error {
	return r.SetSetting(models.SettingSyncInterval, strconv.FormatInt(interval.Milliseconds(), 10))
}

// LastSyncTimestamp returns the epoch-ms cursor of the last completed
// pass, 0 when the device has never synced.
func (r *Repository) LastSyncTimestamp() (int64, error) {
	value, err := r.GetSetting(models.SettingLastSyncTimestamp)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	ms, parseErr := strconv.ParseInt(value, 10, 64)
	if parseErr != nil {
		return 0, nil
	}
	return ms, nil
}

// SetLastSyncTimestamp stores the pull cursor after a successful pass.
func (r *Repository) SetLastSyncTimestamp(ms int64) error {
	return r.SetSetting(models.SettingLastSyncTimestamp, strconv.FormatInt(ms, 10))
}

// =====================================================
// Aggregate Queries
// =====================================================

// PendingSync breaks down everything still waiting to reach the server.
type PendingSync struct {
	DirtyTasks       int `json:"dirty_tasks"`
	PendingPhotos    int `json:"pending_photos"`
	UnsyncedComments int `json:"unsynced_comments"`
	FailedQueue      int `json:"failed_queue"`
}

// Total returns the combined pending count.
func (p PendingSync) Total() int {
	return p.DirtyTasks + p.PendingPhotos + p.UnsyncedComments + p.FailedQueue
}

// CountPendingSync reports how much local state still needs to travel:
// dirty tasks, photos awaiting upload, unsynced comments, and queue
// entries that have exhausted their retries.
func (r *Repository) CountPendingSync() (PendingSync, error) {
	var p PendingSync

	if err := r.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE needs_sync = 1`).Scan(&p.DirtyTasks); err != nil {
		return p, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM task_photos WHERE needs_upload = 1`).Scan(&p.PendingPhotos); err != nil {
		return p, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM task_comments WHERE is_synced = 0`).Scan(&p.UnsyncedComments); err != nil {
		return p, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status = ?`, models.QueueFailed).Scan(&p.FailedQueue); err != nil {
		return p, err
	}

	return p, nil
}

// TaskStats summarizes the local task workload for the dashboard screen.
type TaskStats struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	ByPriority     map[string]int `json:"by_priority"`
	Overdue        int            `json:"overdue"`
	CompletionRate float64        `json:"completion_rate"`
}

// TaskStatistics computes workload totals in a handful of grouped scans.
func (r *Repository) TaskStatistics(now time.Time) (*TaskStats, error) {
	stats := &TaskStats{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}

	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := r.db.Query(`SELECT priority, COUNT(*) FROM tasks GROUP BY priority`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var priority string
		var count int
		if err := prows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		stats.ByPriority[priority] = count
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	nowMs := models.TimeToMillis(now)
	err = r.db.QueryRow(`
	SELECT COUNT(*) FROM tasks
	WHERE due_date > 0 AND due_date < ? AND status NOT IN (?, ?)
	`, nowMs, string(models.StatusCompleted), string(models.StatusCancelled)).Scan(&stats.Overdue)
	if err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.ByStatus[string(models.StatusCompleted)]) / float64(stats.Total)
	}

	return stats, nil
}
