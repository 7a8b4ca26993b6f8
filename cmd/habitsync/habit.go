package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"habitsync/internal/mutate"
	"habitsync/internal/schema"
	"habitsync/internal/store"
	"habitsync/internal/ui"
)

var habitCmd = &cobra.Command{
	Use:   "habit",
	Short: "Manage habits",
}

var habitAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a new habit",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openStore()
		if err != nil {
			fatalf("failed to open store: %v", err)
		}
		defer db.Close()

		icon, _ := cmd.Flags().GetString("icon")
		color, _ := cmd.Flags().GetString("color")
		twoStep, _ := cmd.Flags().GetBool("two-step")

		h := &schema.Habit{
			OwnerID: ownerID(),
			Name:    args[0],
			Icon:    icon,
			Color:   color,
			TwoStep: twoStep,
		}

		pipeline := mutate.NewPipeline(db, quietLogger())
		if err := pipeline.SaveHabit(context.Background(), h); err != nil {
			fatalf("failed to create habit: %v", err)
		}

		fmt.Printf("%s Created habit %s (%s)\n", ui.RenderPass("✓"), h.Name, h.ID)
	},
}

var habitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List habits in display order",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openStore()
		if err != nil {
			fatalf("failed to open store: %v", err)
		}
		defer db.Close()

		ctx := context.Background()
		habits, err := db.ListHabits(ctx, ownerID())
		if err != nil {
			fatalf("failed to list habits: %v", err)
		}
		if len(habits) == 0 {
			fmt.Printf("%s No habits yet. Create one with 'habitsync habit add'\n", ui.RenderMuted("∅"))
			return
		}

		today := schema.Today()
		entries, err := db.EntriesForDate(ctx, ownerID(), today)
		if err != nil {
			fatalf("failed to load today's entries: %v", err)
		}
		byHabit := make(map[string]*schema.Entry, len(entries))
		for _, e := range entries {
			byHabit[e.HabitID] = e
		}

		for _, h := range habits {
			mark := ui.RenderMuted("·")
			if e := byHabit[h.ID]; e != nil {
				switch {
				case h.TwoStep && e.Value == 1:
					mark = ui.RenderWarn("◐")
				case e.Value > 0:
					mark = ui.RenderPass("✓")
				}
			}
			fmt.Printf("%s %-30s %s\n", mark, h.Name, ui.RenderMuted(h.ID))
		}
	},
}

var habitEditCmd = &cobra.Command{
	Use:   "edit <habit>",
	Short: "Edit a habit's name, icon, or color",
	Args:  cobra.ExactArgs(1),
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

		if cmd.Flags().Changed("name") {
			h.Name, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("icon") {
			h.Icon, _ = cmd.Flags().GetString("icon")
		}
		if cmd.Flags().Changed("color") {
			h.Color, _ = cmd.Flags().GetString("color")
		}
		if cmd.Flags().Changed("two-step") {
			h.TwoStep, _ = cmd.Flags().GetBool("two-step")
		}

		pipeline := mutate.NewPipeline(db, quietLogger())
		if err := pipeline.SaveHabit(ctx, h); err != nil {
			fatalf("failed to save habit: %v", err)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), h.Name)
	},
}

var habitRmCmd = &cobra.Command{
	Use:   "rm <habit>",
	Short: "Delete a habit and its entire history",
	Args:  cobra.ExactArgs(1),
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

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Fprintf(os.Stderr, "This deletes %q and all of its entries on every device.\n", h.Name)
			fmt.Fprintf(os.Stderr, "Re-run with --force to confirm.\n")
			os.Exit(1)
		}

		pipeline := mutate.NewPipeline(db, quietLogger())
		if err := pipeline.DeleteHabit(ctx, h.ID); err != nil {
			fatalf("failed to delete habit: %v", err)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), h.Name)
	},
}

var habitReorderCmd = &cobra.Command{
	Use:   "reorder <habit>...",
	Short: "Set the display order of all habits",
	Long: `Set the display order of habits. Every habit must be listed exactly
once; a partial list is rejected so two devices can never disagree about
which habits exist after a reorder.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openStore()
		if err != nil {
			fatalf("failed to open store: %v", err)
		}
		defer db.Close()

		ctx := context.Background()
		ids := make([]string, len(args))
		for i, ref := range args {
			h, err := resolveHabit(ctx, db, ref)
			if err != nil {
				fatalf("%v", err)
			}
			ids[i] = h.ID
		}

		pipeline := mutate.NewPipeline(db, quietLogger())
		if err := pipeline.ReorderHabits(ctx, ownerID(), ids); err != nil {
			fatalf("failed to reorder: %v", err)
		}
		fmt.Printf("%s Reordered %d habits\n", ui.RenderPass("✓"), len(ids))
	},
}

// resolveHabit finds a habit by exact id or unique name prefix.
func resolveHabit(ctx context.Context, db *store.DB, ref string) (*schema.Habit, error) {
	if h, err := db.GetHabit(ctx, ref); err == nil {
		return h, nil
	}

	habits, err := db.ListHabits(ctx, ownerID())
	if err != nil {
		return nil, err
	}

	var matches []*schema.Habit
	for _, h := range habits {
		if strings.HasPrefix(strings.ToLower(h.Name), strings.ToLower(ref)) {
			matches = append(matches, h)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no habit matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, h := range matches {
			names[i] = h.Name
		}
		return nil, fmt.Errorf("%q is ambiguous: %s", ref, strings.Join(names, ", "))
	}
}

func init() {
	habitAddCmd.Flags().String("icon", "", "Icon name")
	habitAddCmd.Flags().String("color", "", "Display color (hex)")
	habitAddCmd.Flags().Bool("two-step", false, "Track none/half/full instead of done/not-done")

	habitEditCmd.Flags().String("name", "", "New name")
	habitEditCmd.Flags().String("icon", "", "New icon")
	habitEditCmd.Flags().String("color", "", "New color (hex)")
	habitEditCmd.Flags().Bool("two-step", false, "Toggle two-step tracking")

	habitRmCmd.Flags().Bool("force", false, "Skip confirmation")

	habitCmd.AddCommand(habitAddCmd, habitListCmd, habitEditCmd, habitRmCmd, habitReorderCmd)
	rootCmd.AddCommand(habitCmd)
}
