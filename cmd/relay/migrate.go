package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/webhook-relay/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Create or upgrade the events and event_deliveries tables. serve and worker also migrate on startup.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		version, dirty, err := repository.Migrate(cfg.Database.ConnString())
		if err != nil {
			return err
		}
		logger.Info("Database migration complete", "version", version, "dirty", dirty)
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
