package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"habitsync/internal/migrate"
	"habitsync/internal/store"
	"habitsync/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage schema migrations and backups",
}

var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply pending schema migrations",
	Long: `Apply pending schema migrations. A backup of the database is taken
before anything changes, so a failed migration can always be rolled back
with 'habitsync migrate restore'.`,
	Run: func(cmd *cobra.Command, args []string) {
		db, runner, err := openForMigration()
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		n, err := runner.Run(context.Background())
		if err != nil {
			fatalf("migration failed: %v", err)
		}
		if n == 0 {
			fmt.Printf("%s Schema already up to date\n", ui.RenderPass("✓"))
			return
		}
		fmt.Printf("%s Applied %d migrations\n", ui.RenderPass("✓"), n)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Run: func(cmd *cobra.Command, args []string) {
		db, runner, err := openForMigration()
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		ctx := context.Background()
		entries, err := runner.Log(ctx)
		if err != nil {
			fatalf("failed to read migration log: %v", err)
		}
		pending, err := runner.Pending(ctx)
		if err != nil {
			fatalf("failed to compute pending migrations: %v", err)
		}

		for _, e := range entries {
			mark := ui.RenderPass("✓")
			detail := ""
			if !e.Success {
				mark = ui.RenderErr("✗")
				detail = " " + ui.RenderErr(e.Error)
			}
			fmt.Printf("%s v%d %-30s %s%s\n", mark, e.Version, e.Name,
				ui.RenderMuted(e.AppliedAt.Local().Format(time.RFC3339)), detail)
		}
		for _, m := range pending {
			fmt.Printf("%s v%d %-30s %s\n", ui.RenderWarn("·"), m.Version, m.Name,
				ui.RenderMuted("pending"))
		}
		if len(entries) == 0 && len(pending) == 0 {
			fmt.Printf("%s No migrations registered\n", ui.RenderMuted("∅"))
		}
	},
}

var migrateRestoreCmd = &cobra.Command{
	Use:   "restore [backup]",
	Short: "Restore the database from a backup",
	Long: `Restore the database from a backup snapshot. With no argument the
most recent backup is used; pass a path from 'habitsync migrate backups'
to pick an older one. The current database is set aside, not destroyed.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := viper.GetString("store.path")
		backups := migrate.NewBackupManager(path)
		ctx := context.Background()

		var restored string
		var err error
		if len(args) == 1 {
			restored = args[0]
			err = backups.Restore(ctx, restored)
		} else {
			restored, err = backups.RestoreLatest(ctx)
		}
		if err != nil {
			fatalf("restore failed: %v", err)
		}
		fmt.Printf("%s Restored %s from %s\n", ui.RenderPass("✓"), path, restored)
	},
}

var migrateBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List available database backups",
	Run: func(cmd *cobra.Command, args []string) {
		backups := migrate.NewBackupManager(viper.GetString("store.path"))
		list, err := backups.List()
		if err != nil {
			fatalf("failed to list backups: %v", err)
		}
		if len(list) == 0 {
			fmt.Printf("%s No backups in %s\n", ui.RenderMuted("∅"), backups.Dir())
			return
		}
		for _, b := range list {
			fmt.Printf("%s  %8d bytes  %s\n",
				ui.RenderMuted(b.Timestamp.Local().Format(time.RFC3339)), b.Size, b.Path)
		}
	},
}

// openForMigration opens the store without the automatic migration pass
// that openStore performs, so status and run report honestly.
func openForMigration() (*store.DB, *migrate.Runner, error) {
	path := viper.GetString("store.path")
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	runner := migrate.NewRunner(db.RawDB(), path, nil, nil)
	return db, runner, nil
}

func init() {
	migrateCmd.AddCommand(migrateRunCmd, migrateStatusCmd, migrateRestoreCmd, migrateBackupsCmd)
	rootCmd.AddCommand(migrateCmd)
}
