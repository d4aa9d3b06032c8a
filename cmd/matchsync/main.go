// Command matchsync is the offline-first sync daemon and CLI for the
// match-tracking backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coachtools/matchsync/internal/config"
	"github.com/coachtools/matchsync/internal/logging"
)

var (
	configPath string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "matchsync",
	Short: "Offline-first persistence and sync for match tracking",
	Long: `matchsync keeps match-tracking data (players, seasons, tournaments,
saved games) in a local SQLite store and synchronizes it with the backend.

Every mutation commits locally first and is queued; the sync engine drains
the queue whenever the backend is reachable, so the app keeps working with
no connectivity at all.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $HOME/.matchsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress log output to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data:"},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the effective configuration for a command invocation.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newSink builds the log destination from flags and config.
func newSink(cfg *config.Config) *logging.Sink {
	return logging.NewSink(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Quiet:      quiet,
	})
}
