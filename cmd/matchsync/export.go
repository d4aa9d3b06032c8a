package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coachtools/matchsync/internal/importer"
	"github.com/coachtools/matchsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "data",
	Short:   "Export all local data to a backup file",
	Long: `Write the full contents of the local store to a JSON export file.
The file can be re-imported with 'matchsync import', here or on another
device.`,
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

		path := importer.DefaultExportName(time.Now())
		if len(args) == 1 {
			path = args[0]
		}
		if err := importer.WriteSnapshot(cmd.Context(), db, path); err != nil {
			return err
		}
		fmt.Println(ui.Success("Exported to " + path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
