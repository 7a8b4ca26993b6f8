package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"habitsync/internal/mutate"
	"habitsync/internal/schema"
	"habitsync/internal/ui"
)

var checkinCmd = &cobra.Command{
	Use:   "checkin <habit>",
	Short: "Toggle a habit's check-in for a day",
	Long: `Toggle a habit's check-in. Defaults to today; pass --date for a past
day. Each toggle cycles the value (done/not-done, or none/half/full for
two-step habits) and queues the change for sync.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openStore()
		if err != nil {
			fatalf("failed to open store: %v", err)
		}
		defer db.Close()

		ctx := context.Background()
		h, err := resolveHabit(ctx, db, args[0])
		if err != nil {
			fatalf("%v", err)
		}

		date, _ := cmd.Flags().GetString("date")
		if date == "" {
			date = schema.Today()
		}
		if err := schema.ValidateDate(date); err != nil {
			fatalf("%v", err)
		}

		pipeline := mutate.NewPipeline(db, quietLogger())
		entry, err := pipeline.ToggleEntry(ctx, h.OwnerID, h.ID, date)
		if err != nil {
			fatalf("failed to toggle: %v", err)
		}

		if cmd.Flags().Changed("note") || cmd.Flags().Changed("aux") {
			if cmd.Flags().Changed("note") {
				entry.Note, _ = cmd.Flags().GetString("note")
			}
			if cmd.Flags().Changed("aux") {
				v, _ := cmd.Flags().GetFloat64("aux")
				entry.Aux = &v
			}
			if err := pipeline.SaveEntry(ctx, entry); err != nil {
				fatalf("failed to save entry details: %v", err)
			}
		}

		switch {
		case entry.Value == 0:
			fmt.Printf("%s %s on %s cleared\n", ui.RenderMuted("·"), h.Name, date)
		case h.TwoStep && entry.Value == 1:
			fmt.Printf("%s %s on %s half done\n", ui.RenderWarn("◐"), h.Name, date)
		default:
			fmt.Printf("%s %s on %s done\n", ui.RenderPass("✓"), h.Name, date)
		}
	},
}

func init() {
	checkinCmd.Flags().String("date", "", "Day to check in (YYYY-MM-DD, default today)")
	checkinCmd.Flags().String("note", "", "Attach a note to the entry")
	checkinCmd.Flags().Float64("aux", 0, "Attach a numeric value (reps, minutes, ...)")
	rootCmd.AddCommand(checkinCmd)
}
