package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"habitsync/internal/schema"
	"habitsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store, queue, and sync status",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openStore()
		if err != nil {
			fatalf("failed to open store: %v", err)
		}
		defer db.Close()

		ctx := context.Background()
		owner := ownerID()

		habitCount, err := db.HabitCount(ctx, owner)
		if err != nil {
			fatalf("failed to count habits: %v", err)
		}
		pending, err := db.PendingCount(ctx)
		if err != nil {
			fatalf("failed to count pending operations: %v", err)
		}
		settings, err := db.GetSettings(ctx, owner)
		if err != nil {
			fatalf("failed to read settings: %v", err)
		}

		fmt.Printf("Store:      %s\n", db.Path())
		fmt.Printf("Owner:      %s\n", owner)
		fmt.Printf("Habits:     %d\n", habitCount)

		if pending == 0 {
			fmt.Printf("Queue:      %s\n", ui.RenderPass("empty"))
		} else {
			fmt.Printf("Queue:      %s\n", ui.RenderWarn(fmt.Sprintf("%d pending", pending)))
		}

		if settings.LastSyncAt == nil {
			fmt.Printf("Last sync:  %s\n", ui.RenderMuted("never"))
		} else {
			fmt.Printf("Last sync:  %s (%s ago)\n",
				settings.LastSyncAt.Local().Format(time.RFC3339),
				time.Since(*settings.LastSyncAt).Round(time.Second))
		}

		if url := viper.GetString("remote.url"); url == "" {
			fmt.Printf("Remote:     %s\n", ui.RenderMuted("not configured"))
		} else {
			fmt.Printf("Remote:     %s\n", url)
		}

		verbose, _ := cmd.Flags().GetBool("verbose")
		if !verbose {
			return
		}

		habits, err := db.ListHabits(ctx, owner)
		if err != nil {
			fatalf("failed to list habits: %v", err)
		}
		if len(habits) > 0 {
			fmt.Println()
			today := schema.Today()
			for _, h := range habits {
				stats, err := db.Stats(ctx, owner, h.ID, today)
				if err != nil {
					fatalf("failed to compute stats for %s: %v", h.Name, err)
				}
				streak := ui.RenderMuted("no streak")
				if stats.CurrentStreak > 0 {
					streak = ui.RenderAccent(fmt.Sprintf("%d day streak", stats.CurrentStreak))
				}
				fmt.Printf("  %-30s %3d done, %s (best %d)\n",
					h.Name, stats.TotalDone, streak, stats.LongestStreak)
			}
		}
	},
}

func init() {
	statusCmd.Flags().BoolP("verbose", "v", false, "Include per-habit statistics")
	rootCmd.AddCommand(statusCmd)
}
