package store

import (
	"context"
	"fmt"
	"time"

	"habitsync/internal/schema"
)

// HabitStats summarizes one habit's recorded history.
type HabitStats struct {
	HabitID       string `json:"habit_id"`
	TotalDone     int    `json:"total_done"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	LastCompleted string `json:"last_completed,omitempty"`
}

// Stats computes completion counts and streaks for one habit as of the
// given day. A day counts as done when its value is greater than zero
// (half completion keeps a streak alive for two-step habits).
func (db *DB) Stats(ctx context.Context, ownerID, habitID, today string) (*HabitStats, error) {
	if err := schema.ValidateDate(today); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `
	SELECT date FROM entries
	WHERE owner_id = ? AND habit_id = ? AND value > 0
	ORDER BY date ASC`, ownerID, habitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan entry date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry dates: %w", err)
	}

	stats := &HabitStats{HabitID: habitID, TotalDone: len(dates)}
	if len(dates) == 0 {
		return stats, nil
	}
	stats.LastCompleted = dates[len(dates)-1]

	// Longest run of consecutive calendar days.
	run := 1
	longest := 1
	for i := 1; i < len(dates); i++ {
		if daysBetween(dates[i-1], dates[i]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	stats.LongestStreak = longest

	// Current streak counts back from today. A streak broken yesterday
	// but not yet recorded today still shows as alive until tomorrow.
	last := dates[len(dates)-1]
	gap := daysBetween(last, today)
	if gap > 1 {
		return stats, nil
	}
	current := 1
	for i := len(dates) - 1; i > 0; i-- {
		if daysBetween(dates[i-1], dates[i]) != 1 {
			break
		}
		current++
	}
	stats.CurrentStreak = current
	return stats, nil
}

// daysBetween returns the whole calendar days from a to b. Inputs are
// already validated YYYY-MM-DD strings.
func daysBetween(a, b string) int {
	ta, _ := time.Parse(schema.DateLayout, a)
	tb, _ := time.Parse(schema.DateLayout, b)
	return int(tb.Sub(ta).Hours() / 24)
}
