package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leadforge/mission-service/internal/app"
	"github.com/leadforge/mission-service/internal/database"
)

var printSchema bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Apply the embedded schema to the configured database. Every statement is
idempotent, so running it against an up-to-date database is a no-op.`,
	Example: `  mission-service migrate
  mission-service migrate --print`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&printSchema, "print", false, "print the schema instead of applying it")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if printSchema {
		fmt.Println(database.Schema())
		return nil
	}
	if cfg == nil {
		return fmt.Errorf("config required for migrate command but not loaded")
	}

	// Connect applies the schema itself when auto_migrate is on.
	c := *cfg
	c.Database.AutoMigrate = false
	p, err := app.Connect(cmd.Context(), &c, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := database.Migrate(cmd.Context(), p); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Msg("Schema applied")
	return nil
}
