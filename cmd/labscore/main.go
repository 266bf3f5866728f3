// Package main provides the labscore command line tool for parsing lab reports,
// scoring feature vectors and managing report history.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "labscore",
	Short: "Lab report parsing and health scoring",
	Long:  "labscore turns lab reports into canonical, unit-normalized feature vectors for a prediction task and converts risk probabilities into bounded health scores.",

	SilenceUsage: true,
}

var (
	outputFormat string
	dataDir      string
	verbose      bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json or yaml")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides LABSCORE_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at info level to stderr")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
