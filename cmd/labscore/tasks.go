package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/registry"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List supported tasks",
	RunE:  runTasks,
}

var schemaCmd = &cobra.Command{
	Use:   "schema <task>",
	Short: "Show the feature schema and scoring ranges of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchema,
}

var registryCmd = &cobra.Command{
	Use:   "check-registry <dir>",
	Short: "Validate a registry directory",
	Long:  "Load lab tables and scoring documents from a directory and report every document that fails validation. Exits non-zero when any does.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckRegistry,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(registryCmd)
}

func runTasks(cmd *cobra.Command, _ []string) error {
	components, err := buildComponents(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer components.Close()
	return writeOutput(cmd, map[string]any{"tasks": components.Service.Tasks()})
}

func runSchema(cmd *cobra.Command, args []string) error {
	task, err := domain.ParseTask(args[0])
	if err != nil {
		return err
	}
	components, err := buildComponents(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer components.Close()
	return writeOutput(cmd, components.Service.TaskInfo(task))
}

func runCheckRegistry(cmd *cobra.Command, args []string) error {
	reg, err := registry.Load(domain.RegistryConfig{ConfigDir: args[0]}, newLogger(liteConfig()))
	if err != nil {
		return err
	}

	issues := reg.Issues()
	if err := writeOutput(cmd, map[string]any{"dir": args[0], "issues": issues}); err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("%d invalid registry documents", len(issues))
	}
	return nil
}
