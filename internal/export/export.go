// Package export moves habit data in and out of the store as JSONL, one
// record per line. The format is the interchange surface for backups and
// for moving an owner's history between installations.
package export

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"habitsync/internal/schema"
	"habitsync/internal/store"
)

// Line is one JSONL record: a collection tag plus exactly one of the
// record fields.
type Line struct {
	Collection schema.Collection `json:"collection"`
	Habit      *schema.Habit     `json:"habit,omitempty"`
	Entry      *schema.Entry     `json:"entry,omitempty"`
}

// ImportResult reports what an import applied.
type ImportResult struct {
	Habits  int // habit records applied
	Entries int // entry records applied
	Skipped int // records ignored because the local copy was newer
}

// Porter reads and writes JSONL snapshots of one owner's data.
type Porter struct {
	db     *store.DB
	logger *log.Logger
}

// New creates a Porter. If logger is nil, a default stderr logger is used.
func New(db *store.DB, logger *log.Logger) *Porter {
	if logger == nil {
		logger = log.New(os.Stderr, "[export] ", log.LstdFlags)
	}
	return &Porter{db: db, logger: logger}
}

// Export writes all of an owner's habits and entries to w, habits first.
func (p *Porter) Export(ctx context.Context, ownerID string, w io.Writer) (int, error) {
	habits, err := p.db.ListHabits(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	entries, err := p.db.AllEntries(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	written := 0

	for _, h := range habits {
		if err := enc.Encode(Line{Collection: schema.CollectionHabits, Habit: h}); err != nil {
			return written, fmt.Errorf("failed to encode habit %s: %w", h.ID, err)
		}
		written++
	}
	for _, e := range entries {
		if err := enc.Encode(Line{Collection: schema.CollectionEntries, Entry: e}); err != nil {
			return written, fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
		}
		written++
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("failed to flush export: %w", err)
	}
	return written, nil
}

// ExportFile is Export to a file, written atomically via temp file so a
// crash mid-export never leaves a truncated snapshot behind.
func (p *Porter) ExportFile(ctx context.Context, ownerID, path string) (int, error) {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	written, err := p.Export(ctx, ownerID, f)
	if err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return written, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return written, fmt.Errorf("failed to close export file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return written, fmt.Errorf("failed to rename export file: %w", err)
	}

	p.logger.Printf("Exported %d records to %s", written, path)
	return written, nil
}

// Import merges a JSONL snapshot into the store.
//
// The whole input is parsed and validated before anything is written: one
// malformed or invalid line rejects the entire import, so a bad file can
// never leave the store half-imported. Valid records merge last-write-wins
// against local copies (the imported row wins timestamp ties, the same
// rule sync uses on pull), and every applied record is queued for push so
// the import propagates to other devices.
func (p *Porter) Import(ctx context.Context, ownerID string, r io.Reader) (*ImportResult, error) {
	lines, err := parseAll(ownerID, r)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	err = p.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, ln := range lines {
			switch ln.Collection {
			case schema.CollectionHabits:
				applied, err := importHabit(ctx, tx, ln.Habit)
				if err != nil {
					return err
				}
				if applied {
					result.Habits++
				} else {
					result.Skipped++
				}
			case schema.CollectionEntries:
				applied, err := importEntry(ctx, tx, ln.Entry)
				if err != nil {
					return err
				}
				if applied {
					result.Entries++
				} else {
					result.Skipped++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import failed: %w", err)
	}

	p.logger.Printf("Imported %d habits, %d entries (%d skipped)",
		result.Habits, result.Entries, result.Skipped)
	return result, nil
}

// ImportFile is Import from a file path.
func (p *Porter) ImportFile(ctx context.Context, ownerID, path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()
	return p.Import(ctx, ownerID, f)
}

// parseAll decodes and validates every line up front. Records belonging
// to a different owner are rejected: an import file is a single owner's
// snapshot, and a mixed file is malformed, not partially usable.
func parseAll(ownerID string, r io.Reader) ([]Line, error) {
	dec := json.NewDecoder(r)
	var lines []Line

	for lineNum := 1; ; lineNum++ {
		var ln Line
		if err := dec.Decode(&ln); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}

		switch ln.Collection {
		case schema.CollectionHabits:
			if ln.Habit == nil {
				return nil, fmt.Errorf("line %d: habit record missing", lineNum)
			}
			if err := ln.Habit.Validate(); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			if ln.Habit.OwnerID != ownerID {
				return nil, fmt.Errorf("line %d: record belongs to owner %q", lineNum, ln.Habit.OwnerID)
			}
		case schema.CollectionEntries:
			if ln.Entry == nil {
				return nil, fmt.Errorf("line %d: entry record missing", lineNum)
			}
			if err := ln.Entry.Validate(); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			if ln.Entry.OwnerID != ownerID {
				return nil, fmt.Errorf("line %d: record belongs to owner %q", lineNum, ln.Entry.OwnerID)
			}
		default:
			return nil, fmt.Errorf("line %d: unknown collection %q", lineNum, ln.Collection)
		}

		lines = append(lines, ln)
	}
	return lines, nil
}

func importHabit(ctx context.Context, tx *sql.Tx, h *schema.Habit) (bool, error) {
	local, err := store.GetHabitTx(ctx, tx, h.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, err
	default:
		if h.UpdatedAt.Before(local.UpdatedAt) {
			return false, nil
		}
	}

	if err := store.UpsertHabitTx(ctx, tx, h); err != nil {
		return false, err
	}
	return true, enqueue(ctx, tx, schema.CollectionHabits, h.ID, h)
}

func importEntry(ctx context.Context, tx *sql.Tx, e *schema.Entry) (bool, error) {
	local, err := store.GetEntryTx(ctx, tx, e.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, err
	default:
		if e.UpdatedAt.Before(local.UpdatedAt) {
			return false, nil
		}
	}

	if err := store.UpsertEntryTx(ctx, tx, e); err != nil {
		return false, err
	}
	return true, enqueue(ctx, tx, schema.CollectionEntries, e.ID, e)
}

func enqueue(ctx context.Context, tx *sql.Tx, c schema.Collection, recordID string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.EnqueueOpTx(ctx, tx, &schema.PendingOp{
		Collection: c,
		Kind:       schema.OpUpsert,
		RecordID:   recordID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	})
}
