package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"habitsync/internal/migrate"
	"habitsync/internal/mutate"
	"habitsync/internal/schema"
	"habitsync/internal/store"
)

func setupPorter(t *testing.T) (*Porter, *mutate.Pipeline, *store.DB) {
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

	return New(db, nil), mutate.NewPipeline(db, nil), db
}

func TestExportImportRoundTrip(t *testing.T) {
	porter, pipeline, db := setupPorter(t)
	ctx := context.Background()

	h := &schema.Habit{OwnerID: "u1", Name: "Exercise", TwoStep: true}
	if err := pipeline.SaveHabit(ctx, h); err != nil {
		t.Fatalf("SaveHabit failed: %v", err)
	}
	for _, date := range []string{"2024-03-14", "2024-03-15"} {
		if _, err := pipeline.ToggleEntry(ctx, "u1", h.ID, date); err != nil {
			t.Fatalf("ToggleEntry failed: %v", err)
		}
	}

	var buf bytes.Buffer
	written, err := porter.Export(ctx, "u1", &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if written != 3 {
		t.Errorf("exported %d records, want 3", written)
	}
	if got := strings.Count(buf.String(), "\n"); got != 3 {
		t.Errorf("export has %d lines, want 3", got)
	}

	// Import into a fresh store.
	porter2, _, db2 := setupPorter(t)
	result, err := porter2.Import(ctx, "u1", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Habits != 1 || result.Entries != 2 || result.Skipped != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	imported, err := db2.GetHabit(ctx, h.ID)
	if err != nil {
		t.Fatalf("imported habit missing: %v", err)
	}
	if imported.Name != "Exercise" || !imported.TwoStep {
		t.Errorf("imported habit mismatch: %+v", imported)
	}
	entries, _ := db2.ListEntries(ctx, "u1", h.ID)
	if len(entries) != 2 {
		t.Errorf("imported %d entries, want 2", len(entries))
	}

	// Imported records are queued for push.
	count, _ := db2.PendingCount(ctx)
	if count != 3 {
		t.Errorf("import queued %d ops, want 3", count)
	}

	// Verify the source store was not touched by the round trip.
	original, _ := db.ListHabits(ctx, "u1")
	if len(original) != 1 {
		t.Errorf("source store changed: %d habits", len(original))
	}
}

func TestImport_MalformedLineRejectsWholeFile(t *testing.T) {
	porter, pipeline, _ := setupPorter(t)
	ctx := context.Background()

	h := &schema.Habit{OwnerID: "u1", Name: "Exercise"}
	if err := pipeline.SaveHabit(ctx, h); err != nil {
		t.Fatalf("SaveHabit failed: %v", err)
	}
	var buf bytes.Buffer
	if _, err := porter.Export(ctx, "u1", &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"broken json", buf.String() + "{not json\n"},
		{"unknown collection", buf.String() + `{"collection":"widgets"}` + "\n"},
		{"invalid record", `{"collection":"habits","habit":{"id":"x","owner_id":"u1"}}` + "\n"},
		{"wrong owner", `{"collection":"habits","habit":{"id":"x","owner_id":"u2","name":"N","created_at":"2024-03-15T00:00:00Z","updated_at":"2024-03-15T00:00:00Z"}}` + "\n"},
	}

	fresh, _, freshDB := setupPorter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fresh.Import(ctx, "u1", strings.NewReader(tt.input))
			if err == nil {
				t.Fatalf("expected rejection")
			}
			// Nothing may have been applied, not even the valid lines.
			count, _ := freshDB.HabitCount(ctx, "u1")
			if count != 0 {
				t.Errorf("rejected import applied %d habits", count)
			}
			pending, _ := freshDB.PendingCount(ctx)
			if pending != 0 {
				t.Errorf("rejected import queued %d ops", pending)
			}
		})
	}
}

func TestImport_LastWriteWins(t *testing.T) {
	porter, pipeline, db := setupPorter(t)
	ctx := context.Background()

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	pipeline.SetClock(func() time.Time { return now })

	h := &schema.Habit{OwnerID: "u1", Name: "Local"}
	if err := pipeline.SaveHabit(ctx, h); err != nil {
		t.Fatalf("SaveHabit failed: %v", err)
	}

	older := *h
	older.Name = "Stale import"
	older.UpdatedAt = now.Add(-time.Hour)
	newer := *h
	newer.Name = "Fresh import"
	newer.UpdatedAt = now.Add(time.Hour)

	importOne := func(imp *schema.Habit) *ImportResult {
		t.Helper()
		data, err := json.Marshal(Line{Collection: schema.CollectionHabits, Habit: imp})
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		result, err := porter.Import(ctx, "u1", bytes.NewReader(append(data, '\n')))
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		return result
	}

	if result := importOne(&older); result.Habits != 0 || result.Skipped != 1 {
		t.Errorf("stale import result: %+v", result)
	}
	if result := importOne(&newer); result.Habits != 1 {
		t.Errorf("fresh import result: %+v", result)
	}

	got, err := db.GetHabit(ctx, h.ID)
	if err != nil {
		t.Fatalf("GetHabit failed: %v", err)
	}
	if got.Name != "Fresh import" {
		t.Errorf("final name = %q, want the newest write", got.Name)
	}

	// An equal timestamp is not stale: the imported row wins the tie.
	tied := newer
	tied.Name = "Tied import"
	if result := importOne(&tied); result.Habits != 1 || result.Skipped != 0 {
		t.Errorf("tied import result: %+v", result)
	}
	got, err = db.GetHabit(ctx, h.ID)
	if err != nil {
		t.Fatalf("GetHabit failed: %v", err)
	}
	if got.Name != "Tied import" {
		t.Errorf("final name = %q, want the tie to apply the import", got.Name)
	}
}

func TestExportFile_Atomic(t *testing.T) {
	porter, pipeline, _ := setupPorter(t)
	ctx := context.Background()

	h := &schema.Habit{OwnerID: "u1", Name: "Exercise"}
	if err := pipeline.SaveHabit(ctx, h); err != nil {
		t.Fatalf("SaveHabit failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	written, err := porter.ExportFile(ctx, "u1", path)
	if err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	if written != 1 {
		t.Errorf("wrote %d records, want 1", written)
	}

	result, err := porter.ImportFile(ctx, "u1", path)
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	// Re-importing our own snapshot re-applies it: equal timestamps go
	// to the imported row, same as the sync tie rule.
	if result.Habits != 1 || result.Skipped != 0 {
		t.Errorf("self-import result: %+v", result)
	}
}

func TestImportFile_Missing(t *testing.T) {
	porter, _, _ := setupPorter(t)

	_, err := porter.ImportFile(context.Background(), "u1", filepath.Join(t.TempDir(), "nope.jsonl"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}
