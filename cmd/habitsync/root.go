package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"habitsync/internal/migrate"
	"habitsync/internal/remote"
	"habitsync/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "habitsync",
	Short: "Offline-first habit tracker with background sync",
	Long: `habitsync tracks daily habits in a local store that works with no
network at all. Every change is recorded durably on this device and queued
for the shared remote store; the sync engine drains the queue and pulls
other devices' changes whenever connectivity allows.

Configuration is read from ~/.habitsync/config.yaml and HABITSYNC_*
environment variables.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("store", "", "Path to the local store database")
	rootCmd.PersistentFlags().String("owner", "", "Owner id for all records")
	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	configDir := filepath.Join(home, ".habitsync")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	viper.SetEnvPrefix("HABITSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("store.path", filepath.Join(configDir, "habits.db"))
	viper.SetDefault("owner", "default")
	viper.SetDefault("remote.url", "")
	viper.SetDefault("remote.auth_token", "")
	viper.SetDefault("sync.debounce", "2s")
	viper.SetDefault("sync.poll_interval", "5m")
	viper.SetDefault("sync.retry_ceiling", 5)
	viper.SetDefault("dashboard.port", 8990)
	viper.SetDefault("log.file", "")

	// A missing config file is fine; defaults and env cover everything.
	_ = viper.ReadInConfig()
}

// openStore opens the local store and brings its schema up to date.
func openStore() (*store.DB, error) {
	path := viper.GetString("store.path")

	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	runner := migrate.NewRunner(db.RawDB(), path, nil, quietLogger())
	if _, err := runner.Run(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return db, nil
}

// openRemote connects to the configured remote store.
func openRemote() (*remote.SQLClient, error) {
	url := viper.GetString("remote.url")
	if url == "" {
		return nil, fmt.Errorf("no remote configured: set remote.url in config or HABITSYNC_REMOTE_URL")
	}
	return remote.OpenTurso(url, viper.GetString("remote.auth_token"))
}

func ownerID() string {
	return viper.GetString("owner")
}

// quietLogger discards routine chatter so command output stays clean.
func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
