package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/testcycle/pkg/api/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	s := store.NewStore(log, &cfg.API.Database)

	if err := s.Start(cmd.Context()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	log.WithField("driver", cfg.API.Database.Driver).Info("Database schema is up to date")

	return s.Stop()
}
