// Package store tests for database opening, migration and transactions.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

// newTestStore opens a migrated store in a temp directory.
func newTestStore(t *testing.T) (*DB, *Repository) {
	t.Helper()

	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	return db, NewRepository(db.DB)
}

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	// Verify database file was created
	dbPath := filepath.Join(tmpDir, "fieldsync.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// Verify WAL mode is enabled
	var walMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&walMode); err != nil {
		t.Errorf("Failed to check WAL mode: %v", err)
	}
	if walMode != "wal" {
		t.Errorf("WAL mode not enabled, got: %s", walMode)
	}

	// Verify foreign keys are enabled
	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Errorf("Failed to check foreign keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Errorf("Foreign keys not enabled, got: %d", fkEnabled)
	}
}

// TestOpen_invalidDataDir verifies error when data directory cannot be created.
func TestOpen_invalidDataDir(t *testing.T) {
	invalidPath := "/dev/null/invalid_path/that/cannot/be/created"

	if _, err := Open(invalidPath); err == nil {
		t.Error("Open() with invalid path should return error")
	}
}

// TestMigrate verifies the schema comes up and records its version.
func TestMigrate(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	m := NewMigrator(db.DB)
	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", version)
	}

	// Core tables exist
	for _, table := range []string{"tasks", "users", "sites", "task_photos", "task_comments", "sync_queue", "conflict_log", "settings"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing after migration: %v", table, err)
		}
	}
}

// TestMigrate_idempotent verifies repeated migration is a no-op.
func TestMigrate_idempotent(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("first Migrate() failed: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}

	applied, err := NewMigrator(db.DB).AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations() failed: %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("applied migrations = %d, want 1", len(applied))
	}
	if applied[0].Description != "initial_schema" {
		t.Errorf("description = %q, want 'initial_schema'", applied[0].Description)
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("checksum length = %d, want 64", len(applied[0].Checksum))
	}
}

// TestMigrator_Down verifies rollback of the latest migration.
func TestMigrator_Down(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	m := NewMigrator(db.DB)
	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() after Down = %d, want 0", version)
	}

	if err := m.Down(); err == nil {
		t.Error("Down() with no applied migrations should fail")
	}
}

// TestWithTx_commit verifies a successful function commits its writes.
func TestWithTx_commit(t *testing.T) {
	db, _ := newTestStore(t)

	err := db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO settings (key, value, updated_at) VALUES ('k', 'v', 1)`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	var value string
	if err := db.QueryRow(`SELECT value FROM settings WHERE key = 'k'`).Scan(&value); err != nil {
		t.Fatalf("committed row not found: %v", err)
	}
	if value != "v" {
		t.Errorf("value = %q, want 'v'", value)
	}
}

// TestWithTx_rollback verifies an error rolls back every write.
func TestWithTx_rollback(t *testing.T) {
	db, _ := newTestStore(t)

	wantErr := os.ErrInvalid
	err := db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO settings (key, value, updated_at) VALUES ('k', 'v', 1)`); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("WithTx() error = %v, want %v", err, wantErr)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM settings`).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("settings count after rollback = %d, want 0", count)
	}
}

// TestDB_reopenPersists verifies data survives close and reopen.
func TestDB_reopenPersists(t *testing.T) {
	tmpDir := t.TempDir()

	db1, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := Migrate(db1); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	repo1 := NewRepository(db1.DB)
	if err := repo1.SetSetting("device_name", "tablet-7"); err != nil {
		t.Fatalf("SetSetting() failed: %v", err)
	}
	repo1.Close()
	if err := db1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db2, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer db2.Close()

	value, err := NewRepository(db2.DB).GetSetting("device_name")
	if err != nil {
		t.Fatalf("GetSetting() failed: %v", err)
	}
	if value != "tablet-7" {
		t.Errorf("setting after reopen = %q, want 'tablet-7'", value)
	}
}
