package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncer "habitsync/internal/sync"
	"habitsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Long: `Run a single sync cycle: drain the pending-operations queue to the
remote store, then pull changes made on other devices. If the remote is
unreachable the cycle aborts and leaves the queue untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openStore()
		if err != nil {
			fatalf("failed to open store: %v", err)
		}
		defer db.Close()

		client, err := openRemote()
		if err != nil {
			fatalf("%v", err)
		}
		defer client.Close()

		engine := syncer.New(db, client, ownerID(), quietLogger())
		engine.SetRetryCeiling(viper.GetInt("sync.retry_ceiling"))

		result, err := engine.Cycle(context.Background())
		if err != nil {
			fatalf("sync failed: %v", err)
		}

		if result.Offline {
			fmt.Printf("%s Remote unreachable; changes stay queued locally\n", ui.RenderWarn("⚠"))
			return
		}

		fmt.Printf("%s Pushed %d, pulled %d habits / %d entries (applied %d/%d) in %s\n",
			ui.RenderPass("✓"), result.Pushed,
			result.PulledHabits, result.PulledEntries,
			result.AppliedHabits, result.AppliedEntries,
			result.Duration.Round(time.Millisecond))

		for _, a := range result.Abandoned {
			fmt.Fprintf(os.Stderr, "%s abandoned %s %s %s: %s\n",
				ui.RenderErr("✗"), a.Kind, a.Collection, a.RecordID, a.Reason)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
