package schema

import (
	"strings"
	"testing"
)

func TestEntryKey(t *testing.T) {
	key := EntryKey("user-1", "habit-a", "2024-01-01")
	if key != "user-1:habit-a:2024-01-01" {
		t.Errorf("unexpected key: %s", key)
	}
}

func TestEntryKey_Deterministic(t *testing.T) {
	a := EntryKey("u", "h", "2024-06-15")
	b := EntryKey("u", "h", "2024-06-15")
	if a != b {
		t.Errorf("keys differ: %s vs %s", a, b)
	}
}

func TestParseEntryKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantOwner string
		wantHabit string
		wantDate  string
		wantErr   bool
	}{
		{
			name:      "valid key",
			key:       "user-1:habit-a:2024-01-01",
			wantOwner: "user-1",
			wantHabit: "habit-a",
			wantDate:  "2024-01-01",
		},
		{
			name:    "too few segments",
			key:     "user-1:2024-01-01",
			wantErr: true,
		},
		{
			name:    "empty owner",
			key:     ":habit-a:2024-01-01",
			wantErr: true,
		},
		{
			name:    "bad date",
			key:     "user-1:habit-a:01-01-2024",
			wantErr: true,
		},
		{
			name:    "normalized date rejected",
			key:     "user-1:habit-a:2024-02-31",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, habit, date, err := ParseEntryKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if owner != tt.wantOwner || habit != tt.wantHabit || date != tt.wantDate {
				t.Errorf("got (%s, %s, %s), want (%s, %s, %s)",
					owner, habit, date, tt.wantOwner, tt.wantHabit, tt.wantDate)
			}
		})
	}
}

func TestParseEntryKey_RoundTrip(t *testing.T) {
	key := EntryKey("owner", "habit", "2025-12-31")
	owner, habit, date, err := ParseEntryKey(key)
	if err != nil {
		t.Fatalf("ParseEntryKey failed: %v", err)
	}
	if EntryKey(owner, habit, date) != key {
		t.Errorf("round trip changed key")
	}
}

func TestNextValue(t *testing.T) {
	tests := []struct {
		name    string
		current int
		twoStep bool
		want    int
	}{
		{"one-step from zero", 0, false, 1},
		{"one-step wraps", 1, false, 0},
		{"two-step from zero", 0, true, 1},
		{"two-step half to full", 1, true, 2},
		{"two-step wraps", 2, true, 0},
		{"out of range resets", 7, false, 0},
		{"negative resets", -1, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextValue(tt.current, tt.twoStep); got != tt.want {
				t.Errorf("NextValue(%d, %v) = %d, want %d", tt.current, tt.twoStep, got, tt.want)
			}
		})
	}
}

func TestValidateDate(t *testing.T) {
	if err := ValidateDate("2024-01-01"); err != nil {
		t.Errorf("valid date rejected: %v", err)
	}
	for _, bad := range []string{"2024-1-1", "20240101", "2024-13-01", "2024-02-30", "today"} {
		if err := ValidateDate(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		} else if !strings.Contains(err.Error(), bad) {
			t.Errorf("error should name the input, got: %v", err)
		}
	}
}
