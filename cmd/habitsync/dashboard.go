package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"habitsync/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the standalone WebSocket dashboard server",
	Long: `Start a WebSocket dashboard server without a sync daemon attached.
Mostly useful for wiring up dashboard clients; run 'habitsync daemon
--dashboard' to get live sync activity on the same endpoints.

WebSocket messages include:
- sync_cycle: A sync cycle finished (push/pull counts, duration)
- sync_state: The engine changed state (idle, draining, pulling)
- queue_depth: The pending-operations queue depth changed

Connect with a WebSocket client:
  ws://localhost:<port>/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		port := viper.GetInt("dashboard.port")
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})

		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.Addr())
		fmt.Printf("Health check: http://%s/health\n", server.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatalf("shutdown failed: %v", err)
		}
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8990, "Port to listen on")
	rootCmd.AddCommand(dashboardCmd)
}
