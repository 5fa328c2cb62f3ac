package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datakite/searchsync/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := database.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		migrator := database.NewMigrator(db)
		if err := migrator.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		version, err := migrator.CurrentVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Database schema at version %d\n", version)
		return nil
	},
}
