package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"habitsync/internal/export"
	"habitsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all habits and entries as JSON lines",
	Long: `Export every habit and entry for the configured owner as one JSON
object per line. Writes to stdout unless a file is given; the file is
written atomically.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openStore()
		if err != nil {
			fatalf("failed to open store: %v", err)
		}
		defer db.Close()

		ctx := context.Background()
		porter := export.New(db, quietLogger())

		if len(args) == 0 {
			if _, err := porter.Export(ctx, ownerID(), os.Stdout); err != nil {
				fatalf("export failed: %v", err)
			}
			return
		}

		n, err := porter.ExportFile(ctx, ownerID(), args[0])
		if err != nil {
			fatalf("export failed: %v", err)
		}
		fmt.Printf("%s Exported %d records to %s\n", ui.RenderPass("✓"), n, args[0])
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import habits and entries from a JSON lines file",
	Long: `Import records from a file produced by 'habitsync export'. The file
is validated in full before anything is written; a single malformed line
rejects the whole import. Records older than what the store already holds
are skipped, and everything applied is queued for sync.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openStore()
		if err != nil {
			fatalf("failed to open store: %v", err)
		}
		defer db.Close()

		porter := export.New(db, quietLogger())
		result, err := porter.ImportFile(context.Background(), ownerID(), args[0])
		if err != nil {
			fatalf("import failed: %v", err)
		}

		fmt.Printf("%s Imported %d habits, %d entries (%d skipped as stale)\n",
			ui.RenderPass("✓"), result.Habits, result.Entries, result.Skipped)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
}
