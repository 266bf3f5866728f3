package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/service"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse a lab report into task features",
	Long:  "Parse report text (or OCR tokens with --ocr) into the ordered feature vector of a task. Reads stdin when --in is omitted.",
	RunE:  runParse,
}

var (
	parseTask     string
	parseInput    string
	parseOCR      bool
	parseRequired string
	parsePersist  bool
)

func init() {
	parseCmd.Flags().StringVarP(&parseTask, "task", "t", "", "Prediction task (required)")
	parseCmd.Flags().StringVarP(&parseInput, "in", "i", "", "Path to report text or OCR JSON (default: stdin)")
	parseCmd.Flags().BoolVar(&parseOCR, "ocr", false, "Input is an OCR token document")
	parseCmd.Flags().StringVar(&parseRequired, "required", "", "Comma separated features to report as missing")
	parseCmd.Flags().BoolVar(&parsePersist, "persist", false, "Save the result to the report history")
	_ = parseCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, _ []string) error {
	task, err := domain.ParseTask(parseTask)
	if err != nil {
		return err
	}
	data, err := readInput(cmd.InOrStdin(), parseInput)
	if err != nil {
		return err
	}

	req := service.ParseRequest{
		Task:     task,
		Required: splitList(parseRequired),
		Persist:  parsePersist,
	}
	if parseOCR {
		var doc domain.OCRDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse OCR document: %w", err)
		}
		req.OCR = &doc
	} else {
		req.Text = string(data)
	}

	ctx := context.Background()
	components, err := buildComponents(ctx, parsePersist)
	if err != nil {
		return err
	}
	defer components.Close()

	result, err := components.Service.ParseReport(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to parse report: %w", err)
	}
	return writeOutput(cmd, result)
}
