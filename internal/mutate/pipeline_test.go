package mutate

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"habitsync/internal/migrate"
	"habitsync/internal/schema"
	"habitsync/internal/store"
)

func setupPipeline(t *testing.T) (*Pipeline, *store.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	runner := migrate.NewRunner(db.RawDB(), dbPath, nil, nil)
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return NewPipeline(db, nil), db
}

func TestSaveHabit_CreateAndQueue(t *testing.T) {
	p, db := setupPipeline(t)
	ctx := context.Background()

	h := &schema.Habit{OwnerID: "u1", Name: "Exercise"}
	if err := p.SaveHabit(ctx, h); err != nil {
		t.Fatalf("SaveHabit failed: %v", err)
	}
	if h.ID == "" {
		t.Fatalf("SaveHabit did not assign an id")
	}
	if h.UpdatedAt.IsZero() {
		t.Errorf("SaveHabit did not stamp updated_at")
	}

	stored, err := db.GetHabit(ctx, h.ID)
	if err != nil {
		t.Fatalf("GetHabit failed: %v", err)
	}
	if stored.Name != "Exercise" {
		t.Errorf("stored name = %q", stored.Name)
	}

	ops, err := db.PendingOps(ctx)
	if err != nil {
		t.Fatalf("PendingOps failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 queued op, got %d", len(ops))
	}
	op := ops[0]
	if op.Collection != schema.CollectionHabits || op.Kind != schema.OpUpsert || op.RecordID != h.ID {
		t.Errorf("unexpected op: %+v", op)
	}

	// The payload is a full snapshot of the habit.
	var snap schema.Habit
	if err := json.Unmarshal(op.Payload, &snap); err != nil {
		t.Fatalf("payload is not a habit: %v", err)
	}
	if snap.Name != "Exercise" || snap.ID != h.ID {
		t.Errorf("payload snapshot mismatch: %+v", snap)
	}
}

func TestSaveHabit_AppendsOrderIndex(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"A", "B", "C"} {
		h := &schema.Habit{OwnerID: "u1", Name: name}
		if err := p.SaveHabit(ctx, h); err != nil {
			t.Fatalf("SaveHabit(%s) failed: %v", name, err)
		}
		ids = append(ids, h.ID)
	}

	for i, id := range ids {
		if h, _ := p.db.GetHabit(ctx, id); h.OrderIndex != i {
			t.Errorf("habit %d has order_index %d, want %d", i, h.OrderIndex, i)
		}
	}
}

func TestSaveHabit_UpdatePreservesCreatedAt(t *testing.T) {
	p, db := setupPipeline(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p.SetClock(func() time.Time { return base })

	h := &schema.Habit{OwnerID: "u1", Name: "Exercise"}
	if err := p.SaveHabit(ctx, h); err != nil {
		t.Fatalf("SaveHabit failed: %v", err)
	}

	p.SetClock(func() time.Time { return base.Add(24 * time.Hour) })
	h.Name = "Morning exercise"
	if err := p.SaveHabit(ctx, h); err != nil {
		t.Fatalf("update SaveHabit failed: %v", err)
	}

	stored, err := db.GetHabit(ctx, h.ID)
	if err != nil {
		t.Fatalf("GetHabit failed: %v", err)
	}
	if !stored.CreatedAt.Equal(base) {
		t.Errorf("created_at changed on update: %v", stored.CreatedAt)
	}
	if !stored.UpdatedAt.Equal(base.Add(24 * time.Hour)) {
		t.Errorf("updated_at not restamped: %v", stored.UpdatedAt)
	}
}

func TestToggleEntry(t *testing.T) {
	p, db := setupPipeline(t)
	ctx := context.Background()

	oneStep := &schema.Habit{OwnerID: "u1", Name: "Read"}
	twoStep := &schema.Habit{OwnerID: "u1", Name: "Exercise", TwoStep: true}
	for _, h := range []*schema.Habit{oneStep, twoStep} {
		if err := p.SaveHabit(ctx, h); err != nil {
			t.Fatalf("SaveHabit failed: %v", err)
		}
	}

	tests := []struct {
		name    string
		habitID string
		want    []int
	}{
		{"one-step cycles 0-1-0", oneStep.ID, []int{1, 0, 1}},
		{"two-step cycles 0-1-2-0", twoStep.ID, []int{1, 2, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				e, err := p.ToggleEntry(ctx, "u1", tt.habitID, "2024-03-15")
				if err != nil {
					t.Fatalf("toggle %d failed: %v", i, err)
				}
				if e.Value != want {
					t.Errorf("toggle %d: value = %d, want %d", i, e.Value, want)
				}
			}

			// Repeated toggles land on the same row.
			entries, err := db.ListEntries(ctx, "u1", tt.habitID)
			if err != nil {
				t.Fatalf("ListEntries failed: %v", err)
			}
			if len(entries) != 1 {
				t.Errorf("toggles created %d rows, want 1", len(entries))
			}
		})
	}
}

func TestToggleEntry_UnknownHabit(t *testing.T) {
	p, _ := setupPipeline(t)

	_, err := p.ToggleEntry(context.Background(), "u1", "missing", "2024-03-15")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown habit, got %v", err)
	}
}

func TestToggleEntry_PreservesAuxAndNote(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	h := &schema.Habit{OwnerID: "u1", Name: "Run"}
	if err := p.SaveHabit(ctx, h); err != nil {
		t.Fatalf("SaveHabit failed: %v", err)
	}

	aux := 5.2
	e := &schema.Entry{OwnerID: "u1", HabitID: h.ID, Date: "2024-03-15", Value: 1, Aux: &aux, Note: "5.2km"}
	if err := p.SaveEntry(ctx, e); err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}

	toggled, err := p.ToggleEntry(ctx, "u1", h.ID, "2024-03-15")
	if err != nil {
		t.Fatalf("ToggleEntry failed: %v", err)
	}
	if toggled.Value != 0 {
		t.Errorf("value = %d, want 0", toggled.Value)
	}
	if toggled.Aux == nil || *toggled.Aux != 5.2 || toggled.Note != "5.2km" {
		t.Errorf("toggle dropped aux/note: %+v", toggled)
	}
}

func TestSaveEntry_DerivesKey(t *testing.T) {
	p, db := setupPipeline(t)
	ctx := context.Background()

	e := &schema.Entry{ID: "garbage", OwnerID: "u1", HabitID: "h1", Date: "2024-03-15", Value: 1}
	if err := p.SaveEntry(ctx, e); err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}
	want := schema.EntryKey("u1", "h1", "2024-03-15")
	if e.ID != want {
		t.Errorf("id = %q, want %q", e.ID, want)
	}
	if _, err := db.GetEntry(ctx, want); err != nil {
		t.Errorf("entry not stored under derived key: %v", err)
	}
}

func TestDeleteHabit_CascadesAndQueues(t *testing.T) {
	p, db := setupPipeline(t)
	ctx := context.Background()

	h := &schema.Habit{OwnerID: "u1", Name: "Exercise"}
	if err := p.SaveHabit(ctx, h); err != nil {
		t.Fatalf("SaveHabit failed: %v", err)
	}
	for _, date := range []string{"2024-03-14", "2024-03-15"} {
		if _, err := p.ToggleEntry(ctx, "u1", h.ID, date); err != nil {
			t.Fatalf("ToggleEntry failed: %v", err)
		}
	}

	// Drop the queued upserts so only the deletion's ops remain visible.
	ops, _ := db.PendingOps(ctx)
	for _, op := range ops {
		if err := db.DeleteOp(ctx, op.Seq); err != nil {
			t.Fatalf("DeleteOp failed: %v", err)
		}
	}

	if err := p.DeleteHabit(ctx, h.ID); err != nil {
		t.Fatalf("DeleteHabit failed: %v", err)
	}

	if _, err := db.GetHabit(ctx, h.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("habit still present: %v", err)
	}
	entries, _ := db.ListEntries(ctx, "u1", h.ID)
	if len(entries) != 0 {
		t.Errorf("entries not cascaded: %d remain", len(entries))
	}

	ops, err := db.PendingOps(ctx)
	if err != nil {
		t.Fatalf("PendingOps failed: %v", err)
	}
	// One delete per entry plus one for the habit.
	if len(ops) != 3 {
		t.Fatalf("expected 3 queued deletions, got %d", len(ops))
	}
	var habitDeletes, entryDeletes int
	for _, op := range ops {
		if op.Kind != schema.OpDelete {
			t.Errorf("expected only deletes, got %+v", op)
		}
		switch op.Collection {
		case schema.CollectionHabits:
			habitDeletes++
		case schema.CollectionEntries:
			entryDeletes++
		}
	}
	if habitDeletes != 1 || entryDeletes != 2 {
		t.Errorf("got %d habit / %d entry deletes, want 1 / 2", habitDeletes, entryDeletes)
	}
}

func TestDeleteHabit_MissingIsNoop(t *testing.T) {
	p, db := setupPipeline(t)
	ctx := context.Background()

	if err := p.DeleteHabit(ctx, "missing"); err != nil {
		t.Fatalf("DeleteHabit of missing habit failed: %v", err)
	}
	count, _ := db.PendingCount(ctx)
	if count != 0 {
		t.Errorf("no-op delete queued %d ops", count)
	}
}

func TestReorderHabits(t *testing.T) {
	p, db := setupPipeline(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"A", "B", "C"} {
		h := &schema.Habit{OwnerID: "u1", Name: name}
		if err := p.SaveHabit(ctx, h); err != nil {
			t.Fatalf("SaveHabit failed: %v", err)
		}
		ids = append(ids, h.ID)
	}

	before, err := db.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}

	// B stays at index 1; it still gets stamped and queued with the rest.
	reversed := []string{ids[2], ids[1], ids[0]}
	if err := p.ReorderHabits(ctx, "u1", reversed); err != nil {
		t.Fatalf("ReorderHabits failed: %v", err)
	}

	habits, err := db.ListHabits(ctx, "u1")
	if err != nil {
		t.Fatalf("ListHabits failed: %v", err)
	}
	for i, h := range habits {
		if h.ID != reversed[i] {
			t.Errorf("position %d: got %s, want %s", i, h.ID, reversed[i])
		}
		if h.OrderIndex != i {
			t.Errorf("position %d has order_index %d", i, h.OrderIndex)
		}
	}

	after, err := db.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if after-before != len(reversed) {
		t.Errorf("reorder queued %d ops, want one per listed habit (%d)", after-before, len(reversed))
	}
}

func TestReorderHabits_RejectsIncompleteList(t *testing.T) {
	p, db := setupPipeline(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"A", "B", "C"} {
		h := &schema.Habit{OwnerID: "u1", Name: name}
		if err := p.SaveHabit(ctx, h); err != nil {
			t.Fatalf("SaveHabit failed: %v", err)
		}
		ids = append(ids, h.ID)
	}
	before, _ := db.ListHabits(ctx, "u1")

	tests := []struct {
		name string
		ids  []string
	}{
		{"partial", []string{ids[0], ids[1]}},
		{"duplicate", []string{ids[0], ids[0], ids[1]}},
		{"unknown id", []string{ids[0], ids[1], "stranger"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.ReorderHabits(ctx, "u1", tt.ids); err == nil {
				t.Fatalf("expected rejection")
			}
			after, _ := db.ListHabits(ctx, "u1")
			for i := range before {
				if after[i].ID != before[i].ID || after[i].OrderIndex != before[i].OrderIndex {
					t.Errorf("rejected reorder still changed order at %d", i)
				}
			}
		})
	}
}

func TestSeedDefaults(t *testing.T) {
	p, db := setupPipeline(t)
	ctx := context.Background()

	if err := p.SeedDefaults(ctx, "u1"); err != nil {
		t.Fatalf("SeedDefaults failed: %v", err)
	}
	count, _ := db.HabitCount(ctx, "u1")
	if count == 0 {
		t.Fatalf("no habits seeded")
	}

	// A populated store is left alone.
	if err := p.SeedDefaults(ctx, "u1"); err != nil {
		t.Fatalf("second SeedDefaults failed: %v", err)
	}
	again, _ := db.HabitCount(ctx, "u1")
	if again != count {
		t.Errorf("second seed changed count: %d -> %d", count, again)
	}
}

func TestOnMutateFires(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	var fired int
	p.SetOnMutate(func() { fired++ })

	h := &schema.Habit{OwnerID: "u1", Name: "Exercise"}
	if err := p.SaveHabit(ctx, h); err != nil {
		t.Fatalf("SaveHabit failed: %v", err)
	}
	if _, err := p.ToggleEntry(ctx, "u1", h.ID, "2024-03-15"); err != nil {
		t.Fatalf("ToggleEntry failed: %v", err)
	}
	if fired != 2 {
		t.Errorf("onMutate fired %d times, want 2", fired)
	}

	// A failed mutation must not notify.
	if err := p.ReorderHabits(ctx, "u1", []string{"bogus"}); err == nil {
		t.Fatalf("expected reorder rejection")
	}
	if fired != 2 {
		t.Errorf("onMutate fired on failure")
	}
}
