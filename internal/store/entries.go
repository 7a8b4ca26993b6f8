package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"habitsync/internal/schema"
)

// UpsertEntry inserts or replaces an entry by its deterministic key.
// Because the key is derived from (owner, habit, date), writing the same
// logical day twice always lands on the same row.
func (db *DB) UpsertEntry(ctx context.Context, e *schema.Entry) error {
	return upsertEntry(ctx, db.conn, e)
}

// UpsertEntryTx is UpsertEntry inside a caller-owned transaction.
func UpsertEntryTx(ctx context.Context, tx *sql.Tx, e *schema.Entry) error {
	return upsertEntry(ctx, tx, e)
}

func upsertEntry(ctx context.Context, ex execer, e *schema.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	var aux sql.NullFloat64
	if e.Aux != nil {
		aux = sql.NullFloat64{Float64: *e.Aux, Valid: true}
	}

	query := `
	INSERT INTO entries (
		id, owner_id, habit_id, date, value, aux, note, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		value = excluded.value,
		aux = excluded.aux,
		note = excluded.note,
		updated_at = excluded.updated_at
	`

	_, err := ex.ExecContext(ctx, query,
		e.ID, e.OwnerID, e.HabitID, e.Date, e.Value, aux, e.Note,
		e.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entry %s: %w", e.ID, err)
	}
	return nil
}

// GetEntry retrieves an entry by its key. Returns ErrNotFound for absence.
func (db *DB) GetEntry(ctx context.Context, id string) (*schema.Entry, error) {
	return getEntry(ctx, db.conn, id)
}

// GetEntryTx is GetEntry inside a caller-owned transaction.
func GetEntryTx(ctx context.Context, tx *sql.Tx, id string) (*schema.Entry, error) {
	return getEntry(ctx, tx, id)
}

func getEntry(ctx context.Context, ex execer, id string) (*schema.Entry, error) {
	row := ex.QueryRowContext(ctx, `
	SELECT id, owner_id, habit_id, date, value, aux, note, updated_at
	FROM entries WHERE id = ?`, id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return e, nil
}

// ListEntries returns all entries for one habit, oldest date first.
func (db *DB) ListEntries(ctx context.Context, ownerID, habitID string) ([]*schema.Entry, error) {
	return listEntriesWhere(ctx, db.conn,
		`owner_id = ? AND habit_id = ?`, ownerID, habitID)
}

// ListEntriesTx is ListEntries inside a caller-owned transaction.
func ListEntriesTx(ctx context.Context, tx *sql.Tx, ownerID, habitID string) ([]*schema.Entry, error) {
	return listEntriesWhere(ctx, tx, `owner_id = ? AND habit_id = ?`, ownerID, habitID)
}

// EntriesForDate returns all of an owner's entries for one calendar day.
func (db *DB) EntriesForDate(ctx context.Context, ownerID, date string) ([]*schema.Entry, error) {
	return listEntriesWhere(ctx, db.conn, `owner_id = ? AND date = ?`, ownerID, date)
}

// AllEntries returns every entry for an owner; the export surface uses this.
func (db *DB) AllEntries(ctx context.Context, ownerID string) ([]*schema.Entry, error) {
	return listEntriesWhere(ctx, db.conn, `owner_id = ?`, ownerID)
}

func listEntriesWhere(ctx context.Context, ex execer, where string, args ...any) ([]*schema.Entry, error) {
	rows, err := ex.QueryContext(ctx, `
	SELECT id, owner_id, habit_id, date, value, aux, note, updated_at
	FROM entries WHERE `+where+`
	ORDER BY date ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*schema.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

// DeleteEntry removes an entry by its key. No-op if absent (idempotent).
func (db *DB) DeleteEntry(ctx context.Context, id string) error {
	return deleteEntry(ctx, db.conn, id)
}

// DeleteEntryTx is DeleteEntry inside a caller-owned transaction.
func DeleteEntryTx(ctx context.Context, tx *sql.Tx, id string) error {
	return deleteEntry(ctx, tx, id)
}

func deleteEntry(ctx context.Context, ex execer, id string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	return nil
}

func scanEntry(row rowScanner) (*schema.Entry, error) {
	var e schema.Entry
	var aux sql.NullFloat64
	var updatedAt string

	err := row.Scan(&e.ID, &e.OwnerID, &e.HabitID, &e.Date, &e.Value, &aux, &e.Note, &updatedAt)
	if err != nil {
		return nil, err
	}

	if aux.Valid {
		e.Aux = &aux.Float64
	}
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}
