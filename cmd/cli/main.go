package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/leadforge/mission-service/config"
	"github.com/leadforge/mission-service/internal/app"
)

// needsApp marks commands that open the database and build the services.
const needsApp = "needs-app"

var (
	cfgFile     string
	outputJSON  bool
	cfg         *config.Config
	logger      zerolog.Logger
	pool        *pgxpool.Pool
	application *app.App
)

var rootCmd = &cobra.Command{
	Use:   "mission-service",
	Short: "Mission Service CLI - task queue and campaign operations",
	Long: `Operator tooling for the mission service: apply the schema, issue scoped
tokens, inspect and repair the task queue, check quota usage and run the
campaign follow-up scheduler by hand.`,
	PersistentPreRunE:  persistentPreRun,
	PersistentPostRunE: persistentPostRun,
	SilenceUsage:       true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as JSON")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		// Config is optional for some commands, don't fail here
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
	}
}

func persistentPreRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	logCfg := config.LoggingConfig{Level: "info", Format: "console"}
	if cfg != nil {
		logCfg = cfg.Logging
		// Always use console format for CLI
		logCfg.Format = "console"
	}
	logger = app.InitLogger(logCfg)

	if cmd.Annotations[needsApp] == "" {
		return nil
	}
	if cfg == nil {
		return fmt.Errorf("config required for %s command but not loaded", cmd.Name())
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	var err error
	pool, err = app.Connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	application, err = app.Build(ctx, cfg, pool, logger)
	if err != nil {
		pool.Close()
		return err
	}
	return nil
}

func persistentPostRun(cmd *cobra.Command, args []string) error {
	if application != nil {
		application.Close()
	}
	if pool != nil {
		pool.Close()
	}
	return nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
