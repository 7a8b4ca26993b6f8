package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"habitsync/internal/schema"
)

// GetSettings retrieves an owner's settings. Absence is not an error: a
// zero-valued Settings with the owner filled in is returned so first-run
// code paths never branch on not-found.
func (db *DB) GetSettings(ctx context.Context, ownerID string) (*schema.Settings, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT owner_id, prefs, last_sync_at FROM settings WHERE owner_id = ?`, ownerID)

	var s schema.Settings
	var prefs sql.NullString
	var lastSync sql.NullString

	err := row.Scan(&s.OwnerID, &prefs, &lastSync)
	if err == sql.ErrNoRows {
		return &schema.Settings{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings for %s: %w", ownerID, err)
	}

	if prefs.Valid && prefs.String != "" {
		s.Prefs = json.RawMessage(prefs.String)
	}
	s.LastSyncAt = nullStringToTime(lastSync)
	return &s, nil
}

// PutSettings inserts or replaces an owner's settings row.
func (db *DB) PutSettings(ctx context.Context, s *schema.Settings) error {
	if s.OwnerID == "" {
		return fmt.Errorf("invalid settings: owner_id is required")
	}

	var prefs sql.NullString
	if len(s.Prefs) > 0 {
		prefs = sql.NullString{String: string(s.Prefs), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO settings (owner_id, prefs, last_sync_at)
	VALUES (?, ?, ?)
	ON CONFLICT(owner_id) DO UPDATE SET
		prefs = excluded.prefs,
		last_sync_at = excluded.last_sync_at
	`, s.OwnerID, prefs, timeToNullString(s.LastSyncAt))
	if err != nil {
		return fmt.Errorf("failed to put settings for %s: %w", s.OwnerID, err)
	}
	return nil
}

// SetLastSyncAt stamps the incremental-pull watermark, preserving prefs.
func (db *DB) SetLastSyncAt(ctx context.Context, ownerID string, t time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO settings (owner_id, prefs, last_sync_at)
	VALUES (?, NULL, ?)
	ON CONFLICT(owner_id) DO UPDATE SET
		last_sync_at = excluded.last_sync_at
	`, ownerID, t.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set last_sync_at for %s: %w", ownerID, err)
	}
	return nil
}
