package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coachtools/matchsync/internal/ui"
)

var retryAll bool

var retryCmd = &cobra.Command{
	Use:     "retry [id]",
	GroupID: "sync",
	Short:   "Requeue failed sync entries",
	Long: `Reset a terminally failed queue entry to pending with a fresh retry
budget. With --all, every failed entry is requeued.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if retryAll {
			failed, err := db.ListFailed(cmd.Context())
			if err != nil {
				return err
			}
			for _, entry := range failed {
				if err := db.RetryFailed(cmd.Context(), entry.ID); err != nil {
					return err
				}
			}
			fmt.Println(ui.Success(fmt.Sprintf("Requeued %d entries", len(failed))))
			return nil
		}

		if len(args) != 1 {
			return fmt.Errorf("an entry id or --all is required")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry id %q", args[0])
		}
		if err := db.RetryFailed(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Requeued entry #%d", id)))
		return nil
	},
}

var discardCmd = &cobra.Command{
	Use:     "discard <id>",
	GroupID: "sync",
	Short:   "Drop a failed sync entry",
	Long: `Remove a terminally failed queue entry without applying it. The local
data it described is left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry id %q", args[0])
		}
		if err := db.DiscardFailed(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Discarded entry #%d", id)))
		return nil
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retryAll, "all", false, "requeue every failed entry")
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(discardCmd)
}
