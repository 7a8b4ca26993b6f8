package schema

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used in entry keys.
const DateLayout = "2006-01-02"

// EntryKey derives the deterministic identifier for an entry:
// owner:habit:date. The same logical record always maps to the same key
// regardless of which device produced it, which is what makes entry
// upserts idempotent across devices.
func EntryKey(ownerID, habitID, date string) string {
	return ownerID + ":" + habitID + ":" + date
}

// ParseEntryKey splits an entry key back into its parts.
//
// Owner and habit identifiers must not contain ':'; the date is always
// the final segment.
func ParseEntryKey(key string) (ownerID, habitID, date string, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed entry key %q: want owner:habit:date", key)
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("malformed entry key %q: empty segment", key)
	}
	if err := ValidateDate(parts[2]); err != nil {
		return "", "", "", fmt.Errorf("malformed entry key %q: %w", key, err)
	}
	return parts[0], parts[1], parts[2], nil
}

// ValidateDate checks that date is a real calendar day in YYYY-MM-DD.
func ValidateDate(date string) error {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	// Reject normalized forms like 2024-02-31 -> 2024-03-02.
	if t.Format(DateLayout) != date {
		return fmt.Errorf("invalid date %q: not a calendar day", date)
	}
	return nil
}

// Today returns the current day in the entry-key date format.
func Today() string {
	return time.Now().Format(DateLayout)
}

// NextValue advances a daily completion value one step.
//
// One-step habits cycle 0 -> 1 -> 0. Two-step habits cycle
// 0 -> 1 -> 2 -> 0, where 1 is half done and 2 is fully done.
func NextValue(current int, twoStep bool) int {
	max := 1
	if twoStep {
		max = 2
	}
	if current >= max || current < 0 {
		return 0
	}
	return current + 1
}
