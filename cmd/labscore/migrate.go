package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labscore-server/internal/config"
	"github.com/labscore-server/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down>",
	Short:     "Apply or roll back Postgres report history migrations",
	Long:      "Run the embedded schema migrations against the database configured for the server (config.yaml or LABSCORE_DATABASE_* variables). down rolls back one step.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

var migrateConfigFile string

func init() {
	migrateCmd.Flags().StringVarP(&migrateConfigFile, "config", "c", "", "Path to the server config file")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	var (
		manager *config.Manager
		err     error
	)
	if migrateConfigFile != "" {
		manager, err = config.NewManagerFromFile(migrateConfigFile)
	} else {
		manager, err = config.NewManager()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := manager.GetConfig()
	dbConfig := database.ConfigFromSettings(cfg.Database)
	runner, err := database.NewMigrationRunner(dbConfig.URL(database.MigrationScheme), newLogger(liteConfig()))
	if err != nil {
		return err
	}
	defer runner.Close()

	if args[0] == "down" {
		err = runner.Down(cmd.Context())
	} else {
		err = runner.Up(cmd.Context())
	}
	if err != nil {
		return err
	}

	version, dirty, err := runner.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	return writeOutput(cmd, map[string]any{"version": version, "dirty": dirty})
}
