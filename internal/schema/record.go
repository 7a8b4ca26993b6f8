// Package schema provides the record types shared by the local store,
// the mutation pipeline, and the sync engine.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentSchemaVersion is the record shape version stamped on new habits.
const CurrentSchemaVersion = 3

// Collection names a record collection, both locally and remotely.
type Collection string

const (
	// CollectionHabits holds Habit records.
	CollectionHabits Collection = "habits"
	// CollectionEntries holds Entry records.
	CollectionEntries Collection = "entries"
)

// OpKind is the kind of a pending remote mutation.
type OpKind string

const (
	// OpUpsert inserts or replaces a record by its identifier.
	OpUpsert OpKind = "upsert"
	// OpDelete removes a record by its identifier.
	OpDelete OpKind = "delete"
)

// Habit is a user-defined trackable behavior.
//
// Fields are flat with last-write-wins semantics: the UpdatedAt timestamp
// resolves conflicts between divergent copies of the same record.
type Habit struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	Name  string `json:"name"`
	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`

	// OrderIndex is a dense, owner-scoped position: after any reorder the
	// indices for one owner's habits are exactly 0..n-1.
	OrderIndex int `json:"order_index"`

	// TwoStep marks habits whose daily completion has three states
	// (none/half/full) rather than two.
	TwoStep bool `json:"two_step"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SchemaVersion int `json:"schema_version"`
}

// Validate checks the Habit for required fields.
func (h *Habit) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("id is required")
	}
	if h.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if h.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(h.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(h.Name))
	}
	if h.OrderIndex < 0 {
		return fmt.Errorf("order_index must not be negative (got %d)", h.OrderIndex)
	}
	if h.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if h.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (h *Habit) SetDefaults() {
	now := time.Now().UTC()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = now
	}
	if h.SchemaVersion == 0 {
		h.SchemaVersion = CurrentSchemaVersion
	}
	if h.Color == "" {
		h.Color = "#4a90d9"
	}
}

// Entry is one day's recorded value for one habit.
//
// The identifier is always derived with EntryKey, never generated: two
// devices that record the same (owner, habit, date) offline produce the
// same key, so merging only ever compares timestamps.
type Entry struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	HabitID string `json:"habit_id"`

	// Date is the calendar day in YYYY-MM-DD, no time component.
	Date string `json:"date"`

	// Value is 0 (not done), 1 (done, or half for two-step habits),
	// or 2 (full for two-step habits).
	Value int `json:"value"`

	// Aux is an optional numeric payload such as a duration.
	Aux  *float64 `json:"aux,omitempty"`
	Note string   `json:"note,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the Entry for required fields and a well-formed key.
func (e *Entry) Validate() error {
	if e.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if e.HabitID == "" {
		return fmt.Errorf("habit_id is required")
	}
	if err := ValidateDate(e.Date); err != nil {
		return err
	}
	if e.Value < 0 || e.Value > 2 {
		return fmt.Errorf("value must be between 0 and 2 (got %d)", e.Value)
	}
	if want := EntryKey(e.OwnerID, e.HabitID, e.Date); e.ID != want {
		return fmt.Errorf("id %q does not match derived key %q", e.ID, want)
	}
	if e.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Settings holds per-owner preferences and sync bookkeeping.
type Settings struct {
	OwnerID string `json:"owner_id"`

	// Prefs is a free-form preferences blob owned by the UI layer.
	Prefs json.RawMessage `json:"prefs,omitempty"`

	// LastSyncAt is the watermark for incremental pulls. Nil means no
	// successful pull has completed yet.
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// PendingOp is an outbox record for one not-yet-confirmed remote mutation.
//
// Only the sync engine reads or deletes these; the mutation pipeline
// appends them in the same transaction as the local write.
type PendingOp struct {
	// Seq is the queue-local identifier; drain order is ascending Seq.
	Seq        int64           `json:"seq"`
	Collection Collection      `json:"collection"`
	Kind       OpKind          `json:"kind"`
	RecordID   string          `json:"record_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Retries    int             `json:"retries"`
}

// Validate checks the PendingOp for a usable collection/kind pair.
func (op *PendingOp) Validate() error {
	switch op.Collection {
	case CollectionHabits, CollectionEntries:
	default:
		return fmt.Errorf("unknown collection %q", op.Collection)
	}
	switch op.Kind {
	case OpUpsert, OpDelete:
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	if op.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}
	if op.Kind == OpUpsert && len(op.Payload) == 0 {
		return fmt.Errorf("upsert requires a payload snapshot")
	}
	return nil
}
