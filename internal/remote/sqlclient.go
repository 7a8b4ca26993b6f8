package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"habitsync/internal/schema"
)

// SQLClient implements Client over any database/sql connection whose
// dialect supports SQLite-style upserts. Production uses a libSQL
// connection (OpenTurso); tests use an embedded SQLite database.
type SQLClient struct {
	db *sql.DB
}

// NewSQLClient wraps an open connection. The caller owns the connection's
// lifecycle unless it came from OpenTurso.
func NewSQLClient(db *sql.DB) *SQLClient {
	return &SQLClient{db: db}
}

// Close closes the underlying connection.
func (c *SQLClient) Close() error {
	return c.db.Close()
}

// connLost reports whether an error means the connection died rather
// than the record being rejected. Batch calls surface these as ErrOffline
// so a dropped link mid-batch aborts the cycle instead of charging every
// remaining record a retry.
func connLost(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Ping checks reachability with a trivial query.
func (c *SQLClient) Ping(ctx context.Context) error {
	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	return nil
}

// EnsureSchema creates the remote collections if they do not exist.
// The remote store holds only the shared records; queue and settings are
// device-local and never leave the device.
func (c *SQLClient) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
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

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		habit_id TEXT NOT NULL,
		date TEXT NOT NULL,
		value INTEGER NOT NULL DEFAULT 0,
		aux REAL,
		note TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_remote_habits_owner ON habits(owner_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_remote_entries_owner ON entries(owner_id, updated_at)`)
	if err != nil {
		return fmt.Errorf("failed to ensure remote schema: %w", err)
	}
	return nil
}

// SelectHabits returns an owner's habits updated after since (all of them
// when since is nil).
func (c *SQLClient) SelectHabits(ctx context.Context, ownerID string, since *time.Time) ([]*schema.Habit, error) {
	query := `
	SELECT id, owner_id, name, icon, color, order_index, two_step,
	       created_at, updated_at, schema_version
	FROM habits WHERE owner_id = ?`
	args := []any{ownerID}
	if since != nil {
		query += ` AND updated_at > ?`
		args = append(args, since.Format(time.RFC3339Nano))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select remote habits: %w", err)
	}
	defer rows.Close()

	var habits []*schema.Habit
	for rows.Next() {
		var h schema.Habit
		var createdAt, updatedAt string
		err := rows.Scan(&h.ID, &h.OwnerID, &h.Name, &h.Icon, &h.Color,
			&h.OrderIndex, &h.TwoStep, &createdAt, &updatedAt, &h.SchemaVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote habit: %w", err)
		}
		h.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		h.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		habits = append(habits, &h)
	}
	return habits, rows.Err()
}

// SelectEntries returns an owner's entries updated after since.
func (c *SQLClient) SelectEntries(ctx context.Context, ownerID string, since *time.Time) ([]*schema.Entry, error) {
	query := `
	SELECT id, owner_id, habit_id, date, value, aux, note, updated_at
	FROM entries WHERE owner_id = ?`
	args := []any{ownerID}
	if since != nil {
		query += ` AND updated_at > ?`
		args = append(args, since.Format(time.RFC3339Nano))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select remote entries: %w", err)
	}
	defer rows.Close()

	var entries []*schema.Entry
	for rows.Next() {
		var e schema.Entry
		var aux sql.NullFloat64
		var updatedAt string
		err := rows.Scan(&e.ID, &e.OwnerID, &e.HabitID, &e.Date, &e.Value,
			&aux, &e.Note, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote entry: %w", err)
		}
		if aux.Valid {
			e.Aux = &aux.Float64
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// UpsertHabits writes each habit individually so one rejected record never
// poisons the rest of the batch.
func (c *SQLClient) UpsertHabits(ctx context.Context, habits []*schema.Habit) (*BatchResult, error) {
	result := &BatchResult{Failed: make(map[string]error)}
	for _, h := range habits {
		_, err := c.db.ExecContext(ctx, `
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
		WHERE excluded.updated_at >= habits.updated_at
		`, h.ID, h.OwnerID, h.Name, h.Icon, h.Color, h.OrderIndex, h.TwoStep,
			h.CreatedAt.Format(time.RFC3339Nano),
			h.UpdatedAt.Format(time.RFC3339Nano),
			h.SchemaVersion)
		if err != nil {
			if connLost(err) {
				return nil, fmt.Errorf("%w: %v", ErrOffline, err)
			}
			result.Failed[h.ID] = err
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// UpsertEntries is UpsertHabits for entries.
func (c *SQLClient) UpsertEntries(ctx context.Context, entries []*schema.Entry) (*BatchResult, error) {
	result := &BatchResult{Failed: make(map[string]error)}
	for _, e := range entries {
		var aux sql.NullFloat64
		if e.Aux != nil {
			aux = sql.NullFloat64{Float64: *e.Aux, Valid: true}
		}
		_, err := c.db.ExecContext(ctx, `
		INSERT INTO entries (
			id, owner_id, habit_id, date, value, aux, note, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			value = excluded.value,
			aux = excluded.aux,
			note = excluded.note,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= entries.updated_at
		`, e.ID, e.OwnerID, e.HabitID, e.Date, e.Value, aux, e.Note,
			e.UpdatedAt.Format(time.RFC3339Nano))
		if err != nil {
			if connLost(err) {
				return nil, fmt.Errorf("%w: %v", ErrOffline, err)
			}
			result.Failed[e.ID] = err
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// DeleteHabits removes habits by id. A missing id still counts as
// succeeded; deletions are idempotent.
func (c *SQLClient) DeleteHabits(ctx context.Context, ids []string) (*BatchResult, error) {
	return c.deleteByID(ctx, "habits", ids)
}

// DeleteEntries removes entries by id.
func (c *SQLClient) DeleteEntries(ctx context.Context, ids []string) (*BatchResult, error) {
	return c.deleteByID(ctx, "entries", ids)
}

func (c *SQLClient) deleteByID(ctx context.Context, table string, ids []string) (*BatchResult, error) {
	result := &BatchResult{Failed: make(map[string]error)}
	for _, id := range ids {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
			if connLost(err) {
				return nil, fmt.Errorf("%w: %v", ErrOffline, err)
			}
			result.Failed[id] = err
			continue
		}
		result.Succeeded++
	}
	return result, nil
}
