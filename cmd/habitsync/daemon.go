package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"habitsync/internal/daemon"
	"habitsync/internal/dashboard"
	syncer "habitsync/internal/sync"
	"habitsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the background sync daemon. The daemon watches the local store
for writes from other habitsync processes, debounces bursts of changes into
single sync cycles, polls the remote on an interval, and retries as soon as
connectivity returns after going offline.

With --dashboard it also serves a WebSocket dashboard broadcasting live
sync activity.`,
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

		logger := daemonLogger()
		engine := syncer.New(db, client, ownerID(), logger)
		engine.SetRetryCeiling(viper.GetInt("sync.retry_ceiling"))

		config := daemon.Config{
			PollInterval: viper.GetDuration("sync.poll_interval"),
			Debounce:     viper.GetDuration("sync.debounce"),
			Logger:       logger,
		}

		var server *dashboard.Server
		if withDashboard, _ := cmd.Flags().GetBool("dashboard"); withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Port:   viper.GetInt("dashboard.port"),
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				fatalf("failed to start dashboard: %v", err)
			}
			defer server.Stop()
			config.Dashboard = server
			fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("◉"), server.Addr())
		}

		d := daemon.New(db, engine, client, config)
		if err := d.Start(); err != nil {
			fatalf("failed to start daemon: %v", err)
		}

		fmt.Printf("%s Syncing %s every %s (Ctrl-C to stop)\n",
			ui.RenderPass("✓"), db.Path(), config.PollInterval)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		fmt.Printf("\n%s Shutting down\n", ui.RenderMuted("·"))
		if err := d.Stop(); err != nil {
			fatalf("shutdown failed: %v", err)
		}
	},
}

// daemonLogger logs to the configured file with rotation, or to stderr
// when no log file is set.
func daemonLogger() *log.Logger {
	logFile := viper.GetString("log.file")
	if logFile == "" {
		return log.New(os.Stderr, "[habitsync] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}, "[habitsync] ", log.LstdFlags)
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the live sync dashboard")
	rootCmd.AddCommand(daemonCmd)
}
