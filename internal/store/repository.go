// Package store provides CRUD repository operations for fieldsync models.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/fieldhq/fieldsync/internal/models"
	"github.com/fieldhq/fieldsync/internal/uuid"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so repository writes can
// participate in caller-owned transactions.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Repository provides CRUD operations for all models.
// Frequently used read queries go through a prepared statement cache.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Task Operations
// =====================================================

const taskColumns = `id, server_id, title, description, status, priority,
	assigned_to_id, site_id, due_date, completed_at,
	latitude, longitude, accuracy, address,
	is_synced, needs_sync, sync_conflict, last_sync_at, created_at, updated_at`

// scanTask scans one task row in taskColumns order.
func scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	var task models.Task
	var lat, lng, acc sql.NullFloat64
	err := row.Scan(
		&task.ID, &task.ServerID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&task.AssignedTo, &task.SiteID, &task.DueDate, &task.CompletedAt,
		&lat, &lng, &acc, &task.Address,
		&task.IsSynced, &task.NeedsSync, &task.SyncConflict, &task.LastSyncAt,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid {
		task.Latitude = &lat.Float64
	}
	if lng.Valid {
		task.Longitude = &lng.Float64
	}
	if acc.Valid {
		task.Accuracy = &acc.Float64
	}
	return &task, nil
}

// nullFloat converts an optional float for binding.
func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// CreateTask inserts a new task row. The local ID and timestamps are
// assigned here when unset; sync envelope flags are the caller's business.
func (r *Repository) CreateTask(task *models.Task) error {
	return r.createTask(r.db, task)
}

// CreateTaskTx is CreateTask inside a caller-owned transaction.
func (r *Repository) CreateTaskTx(tx *sql.Tx, task *models.Task) error {
	return r.createTask(tx, task)
}

func (r *Repository) createTask(q dbtx, task *models.Task) error {
	now := models.NowMillis()
	if task.ID == "" {
		task.ID = models.UUID(uuid.New())
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	if task.UpdatedAt == 0 {
		task.UpdatedAt = now
	}

	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.Exec(query,
		task.ID, task.ServerID, task.Title, task.Description, string(task.Status), string(task.Priority),
		task.AssignedTo, task.SiteID, task.DueDate, task.CompletedAt,
		nullFloat(task.Latitude), nullFloat(task.Longitude), nullFloat(task.Accuracy), task.Address,
		task.IsSynced, task.NeedsSync, task.SyncConflict, task.LastSyncAt,
		task.CreatedAt, task.UpdatedAt,
	)
	return err
}

// GetTask retrieves a task by local ID.
func (r *Repository) GetTask(id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanTask(stmt.QueryRow(id))
}

// GetTaskByServerID retrieves a task by its server-assigned ID.
func (r *Repository) GetTaskByServerID(serverID string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE server_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanTask(stmt.QueryRow(serverID))
}

// ListTasks returns tasks matching the filters, newest activity first.
// A nil FilterBuilder lists everything.
func (r *Repository) ListTasks(fb *FilterBuilder, limit, offset int) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t`
	var args []interface{}

	if fb != nil && fb.HasFilters() {
		where, whereArgs := fb.Build()
		query += " WHERE " + where
		args = append(args, whereArgs...)
	}

	query += " ORDER BY t.updated_at DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CountTasks returns the number of tasks matching the filters.
func (r *Repository) CountTasks(fb *FilterBuilder) (int, error) {
	query := `SELECT COUNT(*) FROM tasks t`
	var args []interface{}

	if fb != nil && fb.HasFilters() {
		where, whereArgs := fb.Build()
		query += " WHERE " + where
		args = append(args, whereArgs...)
	}

	var count int
	err := r.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

// ListDirtyTasks returns tasks with unpushed mutations, oldest change
// first so long-queued edits travel before fresh ones.
func (r *Repository) ListDirtyTasks() ([]*models.Task, error) {
	// Conflicted rows stay parked until someone resolves them.
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE needs_sync = 1 AND sync_conflict = 0 ORDER BY updated_at ASC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ListConflictedTasks returns tasks awaiting manual conflict review.
func (r *Repository) ListConflictedTasks() ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE sync_conflict = 1 ORDER BY updated_at DESC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask writes the full task row by local ID.
func (r *Repository) UpdateTask(task *models.Task) error {
	return r.updateTask(r.db, task)
}

// UpdateTaskTx is UpdateTask inside a caller-owned transaction.
func (r *Repository) UpdateTaskTx(tx *sql.Tx, task *models.Task) error {
	return r.updateTask(tx, task)
}

func (r *Repository) updateTask(q dbtx, task *models.Task) error {
	query := `
	UPDATE tasks
	SET server_id = ?, title = ?, description = ?, status = ?, priority = ?,
		assigned_to_id = ?, site_id = ?, due_date = ?, completed_at = ?,
		latitude = ?, longitude = ?, accuracy = ?, address = ?,
		is_synced = ?, needs_sync = ?, sync_conflict = ?, last_sync_at = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := q.Exec(query,
		task.ServerID, task.Title, task.Description, string(task.Status), string(task.Priority),
		task.AssignedTo, task.SiteID, task.DueDate, task.CompletedAt,
		nullFloat(task.Latitude), nullFloat(task.Longitude), nullFloat(task.Accuracy), task.Address,
		task.IsSynced, task.NeedsSync, task.SyncConflict, task.LastSyncAt, task.UpdatedAt,
		task.ID,
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

// DeleteTaskTx removes a task row. Photos and comments cascade via the
// foreign keys, so the whole unit disappears in the caller's transaction.
func (r *Repository) DeleteTaskTx(tx *sql.Tx, id string) error {
	result, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// =====================================================
// User Operations (pull-only reference data)
// =====================================================

const userColumns = `id, server_id, name, email, role, is_synced, last_sync_at, created_at, updated_at`

// UpsertUserByServerID inserts or refreshes a pulled user record, keyed by
// the server identity so repeated pulls stay idempotent.
func (r *Repository) UpsertUserByServerID(user *models.User) error {
	now := models.NowMillis()
	if user.ID == "" {
		user.ID = models.UUID(uuid.New())
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
	INSERT INTO users (` + userColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(server_id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		role = excluded.role,
		is_synced = excluded.is_synced,
		last_sync_at = excluded.last_sync_at,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query,
		user.ID, user.ServerID, user.Name, user.Email, user.Role,
		user.IsSynced, user.LastSyncAt, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

// ListUsers returns all known users ordered by name.
func (r *Repository) ListUsers() ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY name`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		err := rows.Scan(&u.ID, &u.ServerID, &u.Name, &u.Email, &u.Role,
			&u.IsSynced, &u.LastSyncAt, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of mirrored users.
func (r *Repository) CountUsers() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// =====================================================
// Site Operations (pull-only reference data)
// =====================================================

const siteColumns = `id, server_id, name, address, latitude, longitude, is_synced, last_sync_at, created_at, updated_at`

// UpsertSiteByServerID inserts or refreshes a pulled site record.
func (r *Repository) UpsertSiteByServerID(site *models.Site) error {
	now := models.NowMillis()
	if site.ID == "" {
		site.ID = models.UUID(uuid.New())
	}
	if site.CreatedAt == 0 {
		site.CreatedAt = now
	}
	site.UpdatedAt = now

	query := `
	INSERT INTO sites (` + siteColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(server_id) DO UPDATE SET
		name = excluded.name,
		address = excluded.address,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		is_synced = excluded.is_synced,
		last_sync_at = excluded.last_sync_at,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query,
		site.ID, site.ServerID, site.Name, site.Address,
		nullFloat(site.Latitude), nullFloat(site.Longitude),
		site.IsSynced, site.LastSyncAt, site.CreatedAt, site.UpdatedAt,
	)
	return err
}

// ListSites returns all known sites ordered by name.
func (r *Repository) ListSites() ([]*models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites ORDER BY name`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []*models.Site
	for rows.Next() {
		var s models.Site
		var lat, lng sql.NullFloat64
		err := rows.Scan(&s.ID, &s.ServerID, &s.Name, &s.Address, &lat, &lng,
			&s.IsSynced, &s.LastSyncAt, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if lat.Valid {
			s.Latitude = &lat.Float64
		}
		if lng.Valid {
			s.Longitude = &lng.Float64
		}
		sites = append(sites, &s)
	}
	return sites, rows.Err()
}

// CountSites returns the number of mirrored sites.
func (r *Repository) CountSites() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sites`).Scan(&count)
	return count, err
}
