// Package migrate brings the local store's schema up to the version the
// current code expects, exactly once per version, in order.
//
// The runner keeps a persisted log of applied versions, snapshots a full
// backup before applying anything, and stops at the first failure so the
// backup stays meaningful. A version marked successful is never re-applied,
// even though the runner executes on every app start.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"
	"time"
)

// Migration is one idempotent forward transform of the store's shape.
type Migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx) error
}

// LogEntry records one migration attempt in the persisted log.
type LogEntry struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Success   bool
	Error     string
}

// Runner applies migrations against a single database.
type Runner struct {
	db         *sql.DB
	dbPath     string
	backups    *BackupManager
	migrations []Migration
	logger     *log.Logger
}

// NewRunner creates a migration runner for the database at dbPath.
// If migrations is nil the built-in Registry() is used. If logger is nil a
// default stderr logger is used.
func NewRunner(db *sql.DB, dbPath string, migrations []Migration, logger *log.Logger) *Runner {
	if migrations == nil {
		migrations = Registry()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	return &Runner{
		db:         db,
		dbPath:     dbPath,
		backups:    NewBackupManager(dbPath),
		migrations: sorted,
		logger:     logger,
	}
}

// Backups exposes the runner's backup manager for the restore command.
func (r *Runner) Backups() *BackupManager {
	return r.backups
}

func (r *Runner) ensureLogTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS migration_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		success INTEGER NOT NULL,
		error TEXT
	)`)
	if err != nil {
		return fmt.Errorf("failed to ensure migration_log table: %w", err)
	}
	return nil
}

// AppliedVersions returns the set of versions marked successful.
func (r *Runner) AppliedVersions(ctx context.Context) (map[int]bool, error) {
	if err := r.ensureLogTable(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT version FROM migration_log WHERE success = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration log: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Pending returns the migrations not yet marked successful, in order.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := r.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, m := range r.migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Run applies all pending migrations and returns how many were applied.
//
// A full backup is snapshotted before the first pending migration runs.
// Each migration executes in its own transaction together with its log
// entry; the first failure stops the run and leaves the backup available
// for Restore.
func (r *Runner) Run(ctx context.Context) (int, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		r.logger.Printf("Schema is up to date (%d versions applied)", len(r.migrations))
		return 0, nil
	}

	// A brand-new store has nothing to protect; otherwise refuse to touch
	// the schema without a snapshot to fall back on.
	if _, err := os.Stat(r.dbPath); err == nil {
		backupPath, err := r.backups.Create(ctx)
		if err != nil {
			return 0, fmt.Errorf("refusing to migrate without a backup: %w", err)
		}
		r.logger.Printf("Snapshotted backup: %s", backupPath)
	}

	applied := 0
	for _, m := range pending {
		r.logger.Printf("Applying migration %d: %s", m.Version, m.Name)

		if err := r.applyOne(ctx, m); err != nil {
			r.recordOutcome(ctx, m, err)
			return applied, fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}

		applied++
	}

	r.logger.Printf("Applied %d migration(s)", applied)
	return applied, nil
}

// applyOne runs a single migration and its success log entry in one
// transaction so a crash can never leave a half-recorded version.
func (r *Runner) applyOne(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := m.Apply(ctx, tx); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO migration_log (version, name, applied_at, success, error)
	VALUES (?, ?, ?, 1, NULL)`,
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// recordOutcome appends a failure entry outside the rolled-back transaction.
func (r *Runner) recordOutcome(ctx context.Context, m Migration, applyErr error) {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO migration_log (version, name, applied_at, success, error)
	VALUES (?, ?, ?, 0, ?)`,
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano), applyErr.Error())
	if err != nil {
		r.logger.Printf("Warning: failed to record migration failure: %v", err)
	}
}

// Log returns every attempt recorded in the migration log, oldest first.
func (r *Runner) Log(ctx context.Context) ([]LogEntry, error) {
	if err := r.ensureLogTable(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT version, name, applied_at, success, error
	FROM migration_log ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var appliedAt string
		var success int
		var errMsg sql.NullString

		if err := rows.Scan(&e.Version, &e.Name, &appliedAt, &success, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, appliedAt); err == nil {
			e.AppliedAt = t
		}
		e.Success = success == 1
		e.Error = errMsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
