package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachtools/matchsync/internal/config"
	"github.com/coachtools/matchsync/internal/connectivity"
	"github.com/coachtools/matchsync/internal/engine"
	"github.com/coachtools/matchsync/internal/remote"
	"github.com/coachtools/matchsync/internal/storage"
	"github.com/coachtools/matchsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Drain the sync queue now",
	Long: `Run a one-shot drain of the sync queue against the backend,
regardless of the daemon's periodic schedule.`,
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
		if err := rs.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("backend unreachable: %w", err)
		}

		eng, err := engine.New(db, rs, connectivity.NewStatic(true), engineConfig(cfg), sink.Logger("engine"), nil)
		if err != nil {
			return err
		}

		res, err := eng.ForceSync(cmd.Context())
		if err != nil {
			return err
		}

		if res.Failed > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("Synced %d entries, %d failed (%d terminal)",
				res.Applied, res.Failed, res.TerminalFailures)))
		} else {
			fmt.Println(ui.Success(fmt.Sprintf("Synced %d entries", res.Applied)))
		}
		if res.Remapped > 0 {
			fmt.Println(ui.Faint(fmt.Sprintf("%d local identifiers remapped", res.Remapped)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

// openStore opens the local database and ensures the schema exists.
func openStore(ctx context.Context, cfg *config.Config) (*storage.DB, error) {
	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// engineConfig maps daemon configuration onto engine tunables.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		EnableOfflineMode: cfg.Sync.EnableOfflineMode,
		SyncOnReconnect:   cfg.Sync.SyncOnReconnect,
		MaxRetries:        cfg.Sync.MaxRetries,
		BatchSize:         cfg.Sync.BatchSize,
		SyncInterval:      cfg.Sync.Interval,
		BackoffBase:       cfg.Sync.BackoffBase,
		BackoffMax:        cfg.Sync.BackoffMax,
		CallTimeout:       cfg.Sync.CallTimeout,
	}
}
