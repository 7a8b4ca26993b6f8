package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"habitsync/internal/schema"
)

// UpsertHabit inserts or updates a habit by its identifier.
func (db *DB) UpsertHabit(ctx context.Context, h *schema.Habit) error {
	return upsertHabit(ctx, db.conn, h)
}

// UpsertHabitTx is UpsertHabit inside a caller-owned transaction.
func UpsertHabitTx(ctx context.Context, tx *sql.Tx, h *schema.Habit) error {
	return upsertHabit(ctx, tx, h)
}

func upsertHabit(ctx context.Context, e execer, h *schema.Habit) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("invalid habit: %w", err)
	}

	query := `
	INSERT INTO habits (
		id, owner_id, name, icon, color, order_index, two_step,
		created_at, updated_at, schema_version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		name = excluded.name,
		icon = excluded.icon,
		color = excluded.color,
		order_index = excluded.order_index,
		two_step = excluded.two_step,
		updated_at = excluded.updated_at,
		schema_version = excluded.schema_version
	`

	_, err := e.ExecContext(ctx, query,
		h.ID, h.OwnerID, h.Name, h.Icon, h.Color, h.OrderIndex, h.TwoStep,
		h.CreatedAt.Format(time.RFC3339Nano),
		h.UpdatedAt.Format(time.RFC3339Nano),
		h.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert habit %s: %w", h.ID, err)
	}
	return nil
}

// GetHabit retrieves a habit by id. Returns ErrNotFound for absence.
func (db *DB) GetHabit(ctx context.Context, id string) (*schema.Habit, error) {
	return getHabit(ctx, db.conn, id)
}

// GetHabitTx is GetHabit inside a caller-owned transaction.
func GetHabitTx(ctx context.Context, tx *sql.Tx, id string) (*schema.Habit, error) {
	return getHabit(ctx, tx, id)
}

func getHabit(ctx context.Context, e execer, id string) (*schema.Habit, error) {
	row := e.QueryRowContext(ctx, `
	SELECT id, owner_id, name, icon, color, order_index, two_step,
	       created_at, updated_at, schema_version
	FROM habits WHERE id = ?`, id)

	h, err := scanHabit(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get habit %s: %w", id, err)
	}
	return h, nil
}

// ListHabits returns all of an owner's habits ordered by order_index.
func (db *DB) ListHabits(ctx context.Context, ownerID string) ([]*schema.Habit, error) {
	return listHabits(ctx, db.conn, ownerID)
}

// ListHabitsTx is ListHabits inside a caller-owned transaction.
func ListHabitsTx(ctx context.Context, tx *sql.Tx, ownerID string) ([]*schema.Habit, error) {
	return listHabits(ctx, tx, ownerID)
}

func listHabits(ctx context.Context, e execer, ownerID string) ([]*schema.Habit, error) {
	rows, err := e.QueryContext(ctx, `
	SELECT id, owner_id, name, icon, color, order_index, two_step,
	       created_at, updated_at, schema_version
	FROM habits WHERE owner_id = ?
	ORDER BY order_index ASC, created_at ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list habits: %w", err)
	}
	defer rows.Close()

	var habits []*schema.Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan habit: %w", err)
		}
		habits = append(habits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating habits: %w", err)
	}
	return habits, nil
}

// DeleteHabit removes a habit by id. No-op if absent (idempotent).
// Entries are NOT removed here; the mutation pipeline owns the cascade so
// that every affected record gets its own queued remote deletion.
func (db *DB) DeleteHabit(ctx context.Context, id string) error {
	return deleteHabit(ctx, db.conn, id)
}

// DeleteHabitTx is DeleteHabit inside a caller-owned transaction.
func DeleteHabitTx(ctx context.Context, tx *sql.Tx, id string) error {
	return deleteHabit(ctx, tx, id)
}

func deleteHabit(ctx context.Context, e execer, id string) error {
	if _, err := e.ExecContext(ctx, `DELETE FROM habits WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete habit %s: %w", id, err)
	}
	return nil
}

// HabitCount returns the number of habits for an owner.
func (db *DB) HabitCount(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM habits WHERE owner_id = ?`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count habits: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHabit(row rowScanner) (*schema.Habit, error) {
	var h schema.Habit
	var createdAt, updatedAt string

	err := row.Scan(
		&h.ID, &h.OwnerID, &h.Name, &h.Icon, &h.Color, &h.OrderIndex, &h.TwoStep,
		&createdAt, &updatedAt, &h.SchemaVersion,
	)
	if err != nil {
		return nil, err
	}

	h.CreatedAt = parseTime(createdAt)
	h.UpdatedAt = parseTime(updatedAt)
	return &h, nil
}
