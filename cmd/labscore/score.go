package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/inference"
	"github.com/labscore-server/internal/service"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute the health score of a feature vector",
	Long:  "Score a JSON object of features for a task. --probability must lie in [0,1]; without it the model service at LABSCORE_INFERENCE_URL is asked for one.",
	RunE:  runScore,
}

var (
	scoreTask        string
	scoreInput       string
	scoreProbability float64
)

// scoreOutput matches the HTTP score response.
type scoreOutput struct {
	Task            domain.Task           `json:"task"`
	Probability     float64               `json:"probability"`
	Label           *int                  `json:"label,omitempty"`
	HealthScore     float64               `json:"health_score"`
	Breakdown       []domain.Contribution `json:"breakdown"`
	TopContributors []string              `json:"top_contributors"`
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreTask, "task", "t", "", "Prediction task (required)")
	scoreCmd.Flags().StringVarP(&scoreInput, "in", "i", "", "Path to features JSON (default: stdin)")
	scoreCmd.Flags().Float64VarP(&scoreProbability, "probability", "p", 0, "Risk probability in [0,1]")
	_ = scoreCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	task, err := domain.ParseTask(scoreTask)
	if err != nil {
		return err
	}
	data, err := readInput(cmd.InOrStdin(), scoreInput)
	if err != nil {
		return err
	}
	features := domain.NewFeatureVector(0)
	if err := json.Unmarshal(data, features); err != nil {
		return fmt.Errorf("failed to parse features: %w", err)
	}

	ctx := context.Background()
	components, err := buildComponents(ctx, false)
	if err != nil {
		return err
	}
	defer components.Close()

	var prediction *service.PredictionResult
	if cmd.Flags().Changed("probability") {
		prediction, err = components.Service.PredictWith(ctx, inference.FixedPredictor{Probability: scoreProbability}, task, features)
	} else {
		prediction, err = components.Service.Predict(ctx, task, features)
	}
	if err != nil {
		return err
	}
	label := prediction.Label
	return writeOutput(cmd, scoreOutput{
		Task:            task,
		Probability:     prediction.Probability,
		Label:           &label,
		HealthScore:     prediction.HealthScore,
		Breakdown:       prediction.Breakdown,
		TopContributors: prediction.TopContributors,
	})
}
