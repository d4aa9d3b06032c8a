package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/coachtools/matchsync/internal/connectivity"
	"github.com/coachtools/matchsync/internal/engine"
	"github.com/coachtools/matchsync/internal/importer"
	"github.com/coachtools/matchsync/internal/remote"
	"github.com/coachtools/matchsync/internal/ui"
)

var (
	importReplace bool
	importYes     bool
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Import a data export file",
	Long: `Import a full export (current or legacy format) into the local store.
Imported records are queued for sync and receive fresh identifiers; every
cross-reference is rewritten to match.

By default the export is merged with existing data. With --replace, all
existing data is deleted first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sink := newSink(cfg)
		defer sink.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		payload, err := importer.Parse(data)
		if err != nil {
			return err
		}

		mode := importer.ModeMerge
		if importReplace {
			mode = importer.ModeReplace
			if !importYes {
				var confirmed bool
				err := huh.NewConfirm().
					Title("Replace all local data?").
					Description("Every existing player, season, tournament and game will be deleted before the import.").
					Value(&confirmed).
					Run()
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Println("Import cancelled.")
					return nil
				}
			}
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		// Route through the engine's record path so imported entities are
		// queued for sync. The engine is not started; drains happen later.
		rs := remote.NewHTTPStore(cfg.Remote.BaseURL, cfg.Remote.Timeout)
		eng, err := engine.New(db, rs, connectivity.NewStatic(false), engineConfig(cfg), sink.Logger("engine"), nil)
		if err != nil {
			return err
		}

		pipeline := importer.New(importer.NewSyncTarget(eng, db), sink.Logger("import"))
		summary, err := pipeline.Run(cmd.Context(), payload, mode)
		if err != nil {
			return err
		}

		fmt.Println(ui.Success(fmt.Sprintf("Imported %d records", summary.ImportedCount())))
		if summary.Deleted > 0 {
			fmt.Println(ui.Faint(fmt.Sprintf("%d existing records replaced", summary.Deleted)))
		}
		if n := summary.FailedCount(); n > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("%d records failed to import", n)))
		}
		if len(summary.Gaps) > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("%d unresolved references left unchanged", len(summary.Gaps))))
		}
		fmt.Println(ui.Faint("Run 'matchsync sync' to push imported data to the backend."))
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "delete all existing data before importing")
	importCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "skip the --replace confirmation prompt")
	rootCmd.AddCommand(importCmd)
}
