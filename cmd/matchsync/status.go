package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coachtools/matchsync/internal/connectivity"
	"github.com/coachtools/matchsync/internal/model"
	"github.com/coachtools/matchsync/internal/remote"
	"github.com/coachtools/matchsync/internal/stats"
	"github.com/coachtools/matchsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync queue health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sink := newSink(cfg)
		defer sink.Close()

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		rs := remote.NewHTTPStore(cfg.Remote.BaseURL, cfg.Remote.Timeout)
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		online := rs.Ping(pingCtx) == nil
		cancel()

		reporter := stats.New(db, connectivity.NewStatic(online))
		snap, err := reporter.Collect(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println(ui.Title("matchsync status"))
		if snap.Online {
			fmt.Printf("  Backend:  %s\n", ui.Success("online"))
		} else {
			fmt.Printf("  Backend:  %s\n", ui.Warn("offline"))
		}
		fmt.Printf("  Pending:  %d\n", snap.Pending)
		if snap.Pending > 0 {
			fmt.Printf("  Oldest:   %s\n", ui.Faint(snap.OldestPendingAge.Round(time.Second).String()))
		}
		if snap.Failed > 0 {
			fmt.Printf("  Failed:   %s\n", ui.Error(fmt.Sprintf("%d", snap.Failed)))
		} else {
			fmt.Printf("  Failed:   0\n")
		}

		counts := make(map[model.Kind]int)
		for _, kind := range model.Kinds() {
			n, err := db.CountEntities(cmd.Context(), kind)
			if err != nil {
				return err
			}
			counts[kind] = n
		}
		fmt.Printf("  Local:    %d players, %d seasons, %d tournaments, %d games\n",
			counts[model.KindPlayer], counts[model.KindSeason],
			counts[model.KindTournament], counts[model.KindGame])

		if len(snap.FailedEntries) > 0 {
			fmt.Println()
			fmt.Println(ui.Title("Failed entries"))
			for _, e := range snap.FailedEntries {
				fmt.Printf("  #%d %s %s %s %s\n", e.ID, e.Op, e.Kind, e.EntityID,
					ui.Faint(e.LastError))
			}
			fmt.Println(ui.Faint("Use 'matchsync retry' or 'matchsync discard' to resolve."))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
