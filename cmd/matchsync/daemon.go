package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coachtools/matchsync/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the sync service in the foreground: periodic queue drains, the
connectivity probe, the import inbox watcher, and (when enabled) the
dashboard. Stop with SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sink := newSink(cfg)
		defer sink.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return daemon.New(cfg, sink).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
