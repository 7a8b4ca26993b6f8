package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", "file:"+dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db, dbPath
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

func TestRun_FreshDatabase(t *testing.T) {
	db, dbPath := setupTestDB(t)

	runner := NewRunner(db, dbPath, nil, testLogger())
	applied, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if want := len(Registry()); applied != want {
		t.Errorf("applied %d migrations, want %d", applied, want)
	}

	// The final shape must accept a fully-populated entry row.
	_, err = db.Exec(`
	INSERT INTO entries (id, owner_id, habit_id, date, value, aux, note, updated_at)
	VALUES ('u:h:2024-01-01', 'u', 'h', '2024-01-01', 1, 12.5, 'note', '2024-01-01T00:00:00Z')`)
	if err != nil {
		t.Errorf("migrated schema rejected entry insert: %v", err)
	}
}

func TestRun_Idempotent(t *testing.T) {
	db, dbPath := setupTestDB(t)
	runner := NewRunner(db, dbPath, nil, testLogger())

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	applied, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("second Run applied %d migrations, want 0", applied)
	}

	entries, err := runner.Log(context.Background())
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(entries) != len(Registry()) {
		t.Errorf("log has %d entries, want %d", len(entries), len(Registry()))
	}
}

func TestRun_StopsOnFailure(t *testing.T) {
	db, dbPath := setupTestDB(t)

	var thirdRan bool
	migrations := []Migration{
		{Version: 1, Name: "ok", Apply: sqlMigration(`CREATE TABLE a (id TEXT)`)},
		{Version: 2, Name: "broken", Apply: func(ctx context.Context, tx *sql.Tx) error {
			return fmt.Errorf("boom")
		}},
		{Version: 3, Name: "never", Apply: func(ctx context.Context, tx *sql.Tx) error {
			thirdRan = true
			return nil
		}},
	}

	runner := NewRunner(db, dbPath, migrations, testLogger())
	applied, err := runner.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error from broken migration")
	}
	if applied != 1 {
		t.Errorf("applied %d migrations before failure, want 1", applied)
	}
	if thirdRan {
		t.Errorf("migration after the failed one must not run")
	}

	// Failure must be recorded, not silently dropped.
	entries, err := runner.Log(context.Background())
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	var foundFailure bool
	for _, e := range entries {
		if e.Version == 2 && !e.Success && e.Error != "" {
			foundFailure = true
		}
	}
	if !foundFailure {
		t.Errorf("failed migration not recorded in log: %+v", entries)
	}
}

func TestRun_FailedVersionRetriedNextRun(t *testing.T) {
	db, dbPath := setupTestDB(t)

	fail := true
	migrations := []Migration{
		{Version: 1, Name: "flaky", Apply: func(ctx context.Context, tx *sql.Tx) error {
			if fail {
				return fmt.Errorf("transient")
			}
			_, err := tx.ExecContext(ctx, `CREATE TABLE flaky (id TEXT)`)
			return err
		}},
	}

	runner := NewRunner(db, dbPath, migrations, testLogger())
	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatalf("expected first Run to fail")
	}

	fail = false
	applied, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied %d, want 1 (unsuccessful version must be retried)", applied)
	}
}

func TestRun_CreatesBackup(t *testing.T) {
	db, dbPath := setupTestDB(t)

	// Seed a pre-existing database so there is something to back up.
	if _, err := db.Exec(`CREATE TABLE seed (id TEXT)`); err != nil {
		t.Fatalf("failed to seed database: %v", err)
	}

	runner := NewRunner(db, dbPath, nil, testLogger())
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	backups, err := runner.Backups().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("expected 1 backup after migration, got %d", len(backups))
	}
}

func TestBackupAndRestore(t *testing.T) {
	db, dbPath := setupTestDB(t)
	ctx := context.Background()

	runner := NewRunner(db, dbPath, nil, testLogger())
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := db.Exec(`
	INSERT INTO habits (id, owner_id, name, created_at, updated_at)
	VALUES ('h1', 'u1', 'Run', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("failed to insert habit: %v", err)
	}
	// Checkpoint so the snapshot sees the row.
	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	mgr := runner.Backups()
	backupPath, err := mgr.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := db.Exec(`DELETE FROM habits`); err != nil {
		t.Fatalf("failed to wipe habits: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close before restore: %v", err)
	}

	if err := mgr.Restore(ctx, backupPath); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	restored, err := sql.Open("sqlite3", "file:"+dbPath)
	if err != nil {
		t.Fatalf("failed to reopen restored database: %v", err)
	}
	defer restored.Close()

	var count int
	if err := restored.QueryRow(`SELECT COUNT(*) FROM habits`).Scan(&count); err != nil {
		t.Fatalf("failed to count habits: %v", err)
	}
	if count != 1 {
		t.Errorf("restored database has %d habits, want 1", count)
	}
}

func TestRestore_RejectsGarbage(t *testing.T) {
	db, dbPath := setupTestDB(t)
	ctx := context.Background()

	runner := NewRunner(db, dbPath, nil, testLogger())
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	garbage := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(garbage, []byte("not a database"), 0o600); err != nil {
		t.Fatalf("failed to write garbage file: %v", err)
	}

	if err := runner.Backups().Restore(ctx, garbage); err == nil {
		t.Errorf("expected error restoring from a non-database file")
	}
}
