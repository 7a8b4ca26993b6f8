package migrate

import (
	"context"
	"database/sql"
)

// Registry returns the ordered list of schema migrations. New versions are
// appended here and nowhere else; the runner refuses to re-apply a version
// the log already marks successful.
func Registry() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "core collections",
			Apply: sqlMigration(`
			CREATE TABLE IF NOT EXISTS habits (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				icon TEXT NOT NULL DEFAULT '',
				color TEXT NOT NULL DEFAULT '',
				order_index INTEGER NOT NULL DEFAULT 0,
				two_step INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				schema_version INTEGER NOT NULL DEFAULT 1
			);

			-- Entries are flat, foreign-key-free rows: the deterministic id
			-- (owner:habit:date) and updated_at carry all merge semantics,
			-- and pull order must never matter.
			CREATE TABLE IF NOT EXISTS entries (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				habit_id TEXT NOT NULL,
				date TEXT NOT NULL,
				value INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS settings (
				owner_id TEXT PRIMARY KEY,
				prefs TEXT,
				last_sync_at TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_habits_owner ON habits(owner_id, order_index);
			CREATE INDEX IF NOT EXISTS idx_entries_habit ON entries(owner_id, habit_id);
			CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(owner_id, date);
			`),
		},
		{
			Version: 2,
			Name:    "pending operations queue",
			Apply: sqlMigration(`
			CREATE TABLE IF NOT EXISTS pending_ops (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				collection TEXT NOT NULL,
				kind TEXT NOT NULL,
				record_id TEXT NOT NULL,
				payload TEXT,
				enqueued_at TEXT NOT NULL,
				retries INTEGER NOT NULL DEFAULT 0
			);
			`),
		},
		{
			Version: 3,
			Name:    "entry aux and note",
			Apply: func(ctx context.Context, tx *sql.Tx) error {
				// ALTER TABLE has no IF NOT EXISTS; the version log is what
				// guarantees this runs once.
				for _, stmt := range []string{
					`ALTER TABLE entries ADD COLUMN aux REAL`,
					`ALTER TABLE entries ADD COLUMN note TEXT NOT NULL DEFAULT ''`,
				} {
					if _, err := tx.ExecContext(ctx, stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

func sqlMigration(stmts string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmts)
		return err
	}
}
