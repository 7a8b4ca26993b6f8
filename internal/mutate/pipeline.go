// Package mutate is the single write path for habit data.
//
// Every local mutation commits the record change and its outbox entry in
// one transaction, so the pending-operations queue can never disagree with
// the store about what happened. Reads go straight to the store; writes go
// through here.
package mutate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"habitsync/internal/schema"
	"habitsync/internal/store"
)

// Pipeline applies local mutations and mirrors each one into the outbox.
type Pipeline struct {
	db     *store.DB
	logger *log.Logger

	// now is swappable for tests.
	now func() time.Time

	// onMutate fires after every committed mutation. The daemon uses it to
	// debounce a sync cycle; nil means no notification.
	onMutate func()
}

// NewPipeline creates a mutation pipeline over the given store.
// If logger is nil a default stderr logger is used.
func NewPipeline(db *store.DB, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(os.Stderr, "[mutate] ", log.LstdFlags)
	}
	return &Pipeline{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetOnMutate registers a hook fired after each committed mutation.
// Call before the pipeline is shared between goroutines.
func (p *Pipeline) SetOnMutate(fn func()) {
	p.onMutate = fn
}

// SetClock overrides the pipeline's time source.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

func (p *Pipeline) notify() {
	if p.onMutate != nil {
		p.onMutate()
	}
}

// SaveHabit creates or updates a habit.
//
// A habit with no ID is treated as new: it gets a generated identifier and
// an order index at the end of the owner's list. Updates preserve the
// stored CreatedAt. Either way UpdatedAt is stamped here, never by the
// caller, so local writes always win LWW comparisons against older copies.
func (p *Pipeline) SaveHabit(ctx context.Context, h *schema.Habit) error {
	now := p.now()

	err := p.db.WithTx(ctx, func(tx *sql.Tx) error {
		if h.ID == "" {
			h.ID = uuid.NewString()
			habits, err := store.ListHabitsTx(ctx, tx, h.OwnerID)
			if err != nil {
				return err
			}
			h.OrderIndex = len(habits)
			h.CreatedAt = now
		} else {
			existing, err := store.GetHabitTx(ctx, tx, h.ID)
			switch {
			case err == nil:
				h.CreatedAt = existing.CreatedAt
				if h.SchemaVersion == 0 {
					h.SchemaVersion = existing.SchemaVersion
				}
			case errors.Is(err, store.ErrNotFound):
				// Caller-supplied id for a record we have never seen;
				// accept it as a create.
				h.CreatedAt = now
			default:
				return err
			}
		}

		h.UpdatedAt = now
		h.SetDefaults()

		if err := store.UpsertHabitTx(ctx, tx, h); err != nil {
			return err
		}
		return enqueueUpsert(ctx, tx, schema.CollectionHabits, h.ID, h)
	})
	if err != nil {
		return fmt.Errorf("failed to save habit: %w", err)
	}

	p.notify()
	return nil
}

// SaveEntry records a day's value for a habit. The entry id is always
// derived from (owner, habit, date); whatever the caller set is replaced.
func (p *Pipeline) SaveEntry(ctx context.Context, e *schema.Entry) error {
	e.ID = schema.EntryKey(e.OwnerID, e.HabitID, e.Date)
	e.UpdatedAt = p.now()

	err := p.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.UpsertEntryTx(ctx, tx, e); err != nil {
			return err
		}
		return enqueueUpsert(ctx, tx, schema.CollectionEntries, e.ID, e)
	})
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	p.notify()
	return nil
}

// ToggleEntry advances a habit's completion value for one day and returns
// the resulting entry. A missing entry counts as value 0, so the first
// toggle of a day creates the row at value 1.
func (p *Pipeline) ToggleEntry(ctx context.Context, ownerID, habitID, date string) (*schema.Entry, error) {
	if err := schema.ValidateDate(date); err != nil {
		return nil, err
	}

	key := schema.EntryKey(ownerID, habitID, date)
	var result *schema.Entry

	err := p.db.WithTx(ctx, func(tx *sql.Tx) error {
		habit, err := store.GetHabitTx(ctx, tx, habitID)
		if err != nil {
			return fmt.Errorf("habit %s: %w", habitID, err)
		}

		current := 0
		existing, err := store.GetEntryTx(ctx, tx, key)
		switch {
		case err == nil:
			current = existing.Value
		case errors.Is(err, store.ErrNotFound):
		default:
			return err
		}

		e := &schema.Entry{
			ID:        key,
			OwnerID:   ownerID,
			HabitID:   habitID,
			Date:      date,
			Value:     schema.NextValue(current, habit.TwoStep),
			UpdatedAt: p.now(),
		}
		if existing != nil {
			e.Aux = existing.Aux
			e.Note = existing.Note
		}

		if err := store.UpsertEntryTx(ctx, tx, e); err != nil {
			return err
		}
		if err := enqueueUpsert(ctx, tx, schema.CollectionEntries, e.ID, e); err != nil {
			return err
		}

		result = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to toggle entry: %w", err)
	}

	p.notify()
	return result, nil
}

// DeleteEntry removes a day's entry and queues the remote deletion.
// Deleting an entry that does not exist still queues the delete; replaying
// it remotely is harmless and covers a copy the remote may have.
func (p *Pipeline) DeleteEntry(ctx context.Context, ownerID, habitID, date string) error {
	if err := schema.ValidateDate(date); err != nil {
		return err
	}
	key := schema.EntryKey(ownerID, habitID, date)

	err := p.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.DeleteEntryTx(ctx, tx, key); err != nil {
			return err
		}
		return store.EnqueueOpTx(ctx, tx, &schema.PendingOp{
			Collection: schema.CollectionEntries,
			Kind:       schema.OpDelete,
			RecordID:   key,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	p.notify()
	return nil
}

// DeleteHabit removes a habit and all of its entries, queueing one remote
// deletion per affected record. The cascade lives here rather than in a
// foreign key so every entry's deletion reaches the remote individually.
func (p *Pipeline) DeleteHabit(ctx context.Context, id string) error {
	var removed int

	err := p.db.WithTx(ctx, func(tx *sql.Tx) error {
		habit, err := store.GetHabitTx(ctx, tx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		entries, err := store.ListEntriesTx(ctx, tx, habit.OwnerID, id)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := store.DeleteEntryTx(ctx, tx, e.ID); err != nil {
				return err
			}
			if err := store.EnqueueOpTx(ctx, tx, &schema.PendingOp{
				Collection: schema.CollectionEntries,
				Kind:       schema.OpDelete,
				RecordID:   e.ID,
			}); err != nil {
				return err
			}
		}
		removed = len(entries)

		if err := store.DeleteHabitTx(ctx, tx, id); err != nil {
			return err
		}
		return store.EnqueueOpTx(ctx, tx, &schema.PendingOp{
			Collection: schema.CollectionHabits,
			Kind:       schema.OpDelete,
			RecordID:   id,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete habit: %w", err)
	}

	if removed > 0 {
		p.logger.Printf("Deleted habit %s and %d entries", id, removed)
	}
	p.notify()
	return nil
}

// ReorderHabits rewrites an owner's habit order to match ids.
//
// The list must name every one of the owner's habits exactly once; a
// partial or duplicated list is rejected without touching anything. After
// a successful reorder the stored indices are exactly 0..n-1.
func (p *Pipeline) ReorderHabits(ctx context.Context, ownerID string, ids []string) error {
	now := p.now()

	err := p.db.WithTx(ctx, func(tx *sql.Tx) error {
		habits, err := store.ListHabitsTx(ctx, tx, ownerID)
		if err != nil {
			return err
		}

		if len(ids) != len(habits) {
			return fmt.Errorf("reorder must list all %d habits (got %d)", len(habits), len(ids))
		}
		byID := make(map[string]*schema.Habit, len(habits))
		for _, h := range habits {
			byID[h.ID] = h
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				return fmt.Errorf("duplicate habit id %q in reorder", id)
			}
			if byID[id] == nil {
				return fmt.Errorf("unknown habit id %q in reorder", id)
			}
			seen[id] = true
		}

		// Every listed habit is stamped and enqueued, even ones whose
		// index did not move: the whole ordering travels as one write
		// set, so another device merging it sees a consistent list.
		for i, id := range ids {
			h := byID[id]
			h.OrderIndex = i
			h.UpdatedAt = now
			if err := store.UpsertHabitTx(ctx, tx, h); err != nil {
				return err
			}
			if err := enqueueUpsert(ctx, tx, schema.CollectionHabits, h.ID, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reorder habits: %w", err)
	}

	p.notify()
	return nil
}

// SeedDefaults creates a small starter set of habits for a brand-new
// owner. A store that already has habits is left alone.
func (p *Pipeline) SeedDefaults(ctx context.Context, ownerID string) error {
	count, err := p.db.HabitCount(ctx, ownerID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seeds := []schema.Habit{
		{Name: "Exercise", Icon: "runner", Color: "#e05d44"},
		{Name: "Read", Icon: "book", Color: "#4a90d9"},
		{Name: "Sleep by 11pm", Icon: "moon", Color: "#7d5ba6"},
	}
	for i := range seeds {
		seeds[i].OwnerID = ownerID
		if err := p.SaveHabit(ctx, &seeds[i]); err != nil {
			return fmt.Errorf("failed to seed habit %q: %w", seeds[i].Name, err)
		}
	}

	p.logger.Printf("Seeded %d starter habits for %s", len(seeds), ownerID)
	return nil
}

// enqueueUpsert snapshots the record as JSON and appends the outbox row.
// The snapshot, not the live row, is what the sync engine pushes: a later
// local edit gets its own queue entry rather than mutating this one.
func enqueueUpsert(ctx context.Context, tx *sql.Tx, c schema.Collection, recordID string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to snapshot %s %s: %w", c, recordID, err)
	}
	return store.EnqueueOpTx(ctx, tx, &schema.PendingOp{
		Collection: c,
		Kind:       schema.OpUpsert,
		RecordID:   recordID,
		Payload:    payload,
	})
}
