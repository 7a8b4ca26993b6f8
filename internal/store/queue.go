package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"habitsync/internal/schema"
)

// EnqueueOpTx appends a pending operation to the outbox inside the same
// transaction as the local write it mirrors. The sync engine is the only
// reader of this queue.
func EnqueueOpTx(ctx context.Context, tx *sql.Tx, op *schema.PendingOp) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid pending op: %w", err)
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}

	var payload sql.NullString
	if len(op.Payload) > 0 {
		payload = sql.NullString{String: string(op.Payload), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
	INSERT INTO pending_ops (collection, kind, record_id, payload, enqueued_at, retries)
	VALUES (?, ?, ?, ?, ?, 0)
	`, string(op.Collection), string(op.Kind), op.RecordID, payload,
		op.EnqueuedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s %s %s: %w", op.Kind, op.Collection, op.RecordID, err)
	}

	if seq, err := res.LastInsertId(); err == nil {
		op.Seq = seq
	}
	return nil
}

// PendingOps returns all queued operations in enqueue order (FIFO).
// Drain order matters: an upsert-then-delete on the same record must never
// be replayed as delete-then-upsert.
func (db *DB) PendingOps(ctx context.Context) ([]*schema.PendingOp, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT seq, collection, kind, record_id, payload, enqueued_at, retries
	FROM pending_ops ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending ops: %w", err)
	}
	defer rows.Close()

	var ops []*schema.PendingOp
	for rows.Next() {
		var op schema.PendingOp
		var collection, kind, enqueuedAt string
		var payload sql.NullString

		if err := rows.Scan(&op.Seq, &collection, &kind, &op.RecordID, &payload, &enqueuedAt, &op.Retries); err != nil {
			return nil, fmt.Errorf("failed to scan pending op: %w", err)
		}

		op.Collection = schema.Collection(collection)
		op.Kind = schema.OpKind(kind)
		if payload.Valid {
			op.Payload = []byte(payload.String)
		}
		op.EnqueuedAt = parseTime(enqueuedAt)
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending ops: %w", err)
	}
	return ops, nil
}

// PendingCount returns the outbox depth.
func (db *DB) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_ops`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending ops: %w", err)
	}
	return count, nil
}

// DeleteOp removes a confirmed operation from the queue.
func (db *DB) DeleteOp(ctx context.Context, seq int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM pending_ops WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to delete pending op %d: %w", seq, err)
	}
	return nil
}

// BumpRetry increments an operation's retry counter and returns the new
// count. The sync engine abandons the operation once the count reaches its
// retry ceiling.
func (db *DB) BumpRetry(ctx context.Context, seq int64) (int, error) {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE pending_ops SET retries = retries + 1 WHERE seq = ?`, seq); err != nil {
		return 0, fmt.Errorf("failed to bump retry for op %d: %w", seq, err)
	}

	var retries int
	err := db.conn.QueryRowContext(ctx,
		`SELECT retries FROM pending_ops WHERE seq = ?`, seq).Scan(&retries)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read retry count for op %d: %w", seq, err)
	}
	return retries, nil
}
