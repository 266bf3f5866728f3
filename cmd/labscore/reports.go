package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/reports"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect and move the report history",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reports, newest first",
	RunE:  runReportsList,
}

var reportsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one stored report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsGet,
}

var reportsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every report as JSON",
	RunE:  runReportsExport,
}

var reportsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import reports from a JSON export, skipping known IDs",
	RunE:  runReportsImport,
}

var (
	reportsTask   string
	reportsLimit  int
	reportsOffset int
	reportsFile   string
	databaseURL   string
)

func init() {
	reportsListCmd.Flags().StringVarP(&reportsTask, "task", "t", "", "Only list reports for this task")
	reportsListCmd.Flags().IntVar(&reportsLimit, "limit", reports.DefaultListLimit, "Maximum number of reports")
	reportsListCmd.Flags().IntVar(&reportsOffset, "offset", 0, "Number of reports to skip")
	reportsExportCmd.Flags().StringVarP(&reportsFile, "out", "f", "", "Write the export to a file instead of stdout")
	reportsImportCmd.Flags().StringVarP(&reportsFile, "in", "f", "", "Path to export file (default: stdin)")

	reportsCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Use the Postgres history at this postgres:// URL instead of the local SQLite file")

	reportsCmd.AddCommand(reportsListCmd, reportsGetCmd, reportsExportCmd, reportsImportCmd)
	rootCmd.AddCommand(reportsCmd)
}

func runReportsList(cmd *cobra.Command, _ []string) error {
	opts := reports.ListOptions{Limit: reportsLimit, Offset: reportsOffset}
	if reportsTask != "" {
		task, err := domain.ParseTask(reportsTask)
		if err != nil {
			return err
		}
		opts.Task = task
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return fmt.Errorf("limit and offset must not be negative")
	}

	components, err := buildComponents(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer components.Close()

	list, err := components.Service.ListReports(cmd.Context(), opts)
	if err != nil {
		return err
	}
	return writeOutput(cmd, map[string]any{"reports": list, "count": len(list)})
}

func runReportsGet(cmd *cobra.Command, args []string) error {
	components, err := buildComponents(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer components.Close()

	report, err := components.Service.GetReport(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeOutput(cmd, report)
}

func runReportsExport(cmd *cobra.Command, _ []string) error {
	components, err := buildComponents(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer components.Close()

	if reportsFile == "" {
		return components.Store.ExportJSON(cmd.Context(), cmd.OutOrStdout())
	}

	file, err := os.Create(reportsFile)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()
	if err := components.Store.ExportJSON(cmd.Context(), file); err != nil {
		return err
	}
	count, err := components.Store.Count(cmd.Context(), "")
	if err != nil {
		return err
	}
	return writeOutput(cmd, map[string]any{"file_path": reportsFile, "count": count})
}

func runReportsImport(cmd *cobra.Command, _ []string) error {
	components, err := buildComponents(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer components.Close()

	in := cmd.InOrStdin()
	if reportsFile != "" && reportsFile != "-" {
		file, err := os.Open(reportsFile)
		if err != nil {
			return fmt.Errorf("failed to open export file: %w", err)
		}
		defer file.Close()
		in = file
	}

	imported, skipped, err := components.Store.ImportJSON(cmd.Context(), in)
	if err != nil {
		return err
	}
	return writeOutput(cmd, map[string]int{"imported": imported, "skipped": skipped})
}
