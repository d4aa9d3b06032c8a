package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coachtools/matchsync/internal/config"
	"github.com/coachtools/matchsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage daemon configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with the default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to resolve home directory: %w", err)
			}
			path = filepath.Join(home, ".matchsync", "config.yaml")
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Println(ui.Success("Wrote " + path))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
