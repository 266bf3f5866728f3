package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/inference"
	"github.com/labscore-server/internal/service"
)

// ObservationInput is a lab value extracted by the caller.
type ObservationInput struct {
	Name       string  `json:"name" jsonschema:"lab name or synonym"`
	Value      any     `json:"value" jsonschema:"measured value"`
	Unit       string  `json:"unit,omitempty"`
	Confidence float64 `json:"confidence,omitempty" jsonschema:"extraction confidence in (0, 1]"`
	Source     string  `json:"source,omitempty" jsonschema:"llm or advanced_extractor"`
}

// ParseLabReportParams defines parameters for the parse_lab_report tool
type ParseLabReportParams struct {
	Task         string             `json:"task" jsonschema:"prediction task: heart, diabetes, parkinsons, anemia_tab, anemia_img or general"`
	Text         string             `json:"text,omitempty" jsonschema:"report text"`
	Observations []ObservationInput `json:"observations,omitempty" jsonschema:"values already extracted from the report"`
	Required     []string           `json:"required,omitempty" jsonschema:"model feature names; defaults to the task schema"`
	Persist      bool               `json:"persist,omitempty" jsonschema:"save the report to the history database"`
}

// LabInput is one canonical lab reading.
type LabInput struct {
	Value any    `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// MapFeaturesParams defines parameters for the map_features tool
type MapFeaturesParams struct {
	Task     string              `json:"task"`
	Labs     map[string]LabInput `json:"labs" jsonschema:"readings keyed by canonical lab name"`
	Required []string            `json:"required,omitempty"`
}

// CompleteFeaturesParams defines parameters for the complete_features tool
type CompleteFeaturesParams struct {
	Task       string         `json:"task"`
	Extracted  map[string]any `json:"extracted,omitempty" jsonschema:"features extracted from a report"`
	UserInputs map[string]any `json:"user_inputs,omitempty" jsonschema:"features supplied by the user"`
	PreferUser bool           `json:"prefer_user,omitempty" jsonschema:"let user values override extracted ones"`
}

// ComputeHealthScoreParams defines parameters for the compute_health_score tool
type ComputeHealthScoreParams struct {
	Task        string         `json:"task"`
	Features    map[string]any `json:"features"`
	Probability *float64       `json:"probability,omitempty" jsonschema:"model risk probability; omit to run the configured model"`
}

// ListTasksParams defines parameters for the list_tasks tool
type ListTasksParams struct{}

// GetReportParams defines parameters for the get_report tool
type GetReportParams struct {
	ID string `json:"id" jsonschema:"report ID returned by parse_lab_report"`
}

// ExportReportsParams defines parameters for the export_reports tool
type ExportReportsParams struct{}

// HealthScoreResult is the result of compute_health_score.
type HealthScoreResult struct {
	Task            domain.Task           `json:"task"`
	Probability     float64               `json:"probability"`
	Label           *int                  `json:"label,omitempty"`
	HealthScore     float64               `json:"health_score"`
	Breakdown       []domain.Contribution `json:"breakdown"`
	TopContributors []string              `json:"top_contributors"`
}

// ExportReportsResult is the result of export_reports.
type ExportReportsResult struct {
	FilePath string `json:"file_path"`
	Count    int64  `json:"count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "parse_lab_report",
		Description: "Extract lab values from report text and pre-extracted observations, and map them to a task's model features with provenance and normal ranges.",
	}, s.handleParseLabReport)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "map_features",
		Description: "Map canonical lab readings to the exact feature vector a task's model expects, imputing defaults for missing features.",
	}, s.handleMapFeatures)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "complete_features",
		Description: "Merge extracted features with user-supplied values and list the features still missing.",
	}, s.handleCompleteFeatures)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "compute_health_score",
		Description: "Compute the 0-100 health score from features and a risk probability, with the top penalized features.",
	}, s.handleComputeHealthScore)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List the supported tasks with their feature schemas and scoring ranges.",
	}, s.handleListTasks)

	if s.store != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "get_report",
			Description: "Fetch a stored lab report by ID.",
		}, s.handleGetReport)
		if s.exportDir != "" {
			mcp.AddTool(s.mcpServer, &mcp.Tool{
				Name:        "export_reports",
				Description: "Export all stored lab reports to a JSON file for backup.",
			}, s.handleExportReports)
		}
	}

	s.logger.WithField("store", s.store != nil).Debug("Registered MCP tools")
}

func (s *Server) handleParseLabReport(ctx context.Context, req *mcp.CallToolRequest, params ParseLabReportParams) (*mcp.CallToolResult, any, error) {
	call := s.calls.start("parse_lab_report", logrus.Fields{
		"task":         params.Task,
		"text":         params.Text,
		"observations": len(params.Observations),
		"persist":      params.Persist,
	})

	task, err := domain.ParseTask(params.Task)
	if err != nil {
		return s.fail(call, "Invalid task", err)
	}
	if params.Text == "" && len(params.Observations) == 0 {
		return s.fail(call, "Missing input", errors.New("text or observations is required"))
	}

	observations := make([]domain.LabObservation, 0, len(params.Observations))
	for _, o := range params.Observations {
		observations = append(observations, domain.LabObservation{
			CanonicalName: o.Name,
			Value:         domain.ValueOf(o.Value),
			Unit:          o.Unit,
			Confidence:    o.Confidence,
			Source:        domain.Source(o.Source),
		})
	}

	result, err := s.service.ParseReport(ctx, service.ParseRequest{
		Task:         task,
		Text:         domain.StripNulls(params.Text),
		Observations: observations,
		Required:     params.Required,
		Persist:      params.Persist,
	})
	if err != nil {
		return s.fail(call, "Parsing failed", err)
	}

	summary := fmt.Sprintf("Parsed %d lab values into %d %s features (%d imputed, %d out of range)",
		len(result.ParsedKeys), result.Features.Len(), task, len(result.Missing), len(result.OutOfRange))
	return s.succeed(call, summary, result)
}

func (s *Server) handleMapFeatures(ctx context.Context, req *mcp.CallToolRequest, params MapFeaturesParams) (*mcp.CallToolResult, any, error) {
	call := s.calls.start("map_features", logrus.Fields{"task": params.Task, "labs": len(params.Labs)})

	task, err := domain.ParseTask(params.Task)
	if err != nil {
		return s.fail(call, "Invalid task", err)
	}

	parsed := make(domain.ParsedLabs, len(params.Labs))
	for name, lab := range params.Labs {
		parsed[name] = domain.LabReading{Value: domain.ValueOf(lab.Value), Unit: lab.Unit}
	}

	result, err := s.service.MapFeatures(task, parsed, params.Required)
	if err != nil {
		return s.fail(call, "Mapping failed", err)
	}

	summary := fmt.Sprintf("Mapped %d features for %s (%d imputed)", result.Features.Len(), task, len(result.Missing))
	return s.succeed(call, summary, result)
}

func (s *Server) handleCompleteFeatures(ctx context.Context, req *mcp.CallToolRequest, params CompleteFeaturesParams) (*mcp.CallToolResult, any, error) {
	call := s.calls.start("complete_features", logrus.Fields{
		"task":        params.Task,
		"extracted":   len(params.Extracted),
		"user_inputs": len(params.UserInputs),
	})

	task, err := domain.ParseTask(params.Task)
	if err != nil {
		return s.fail(call, "Invalid task", err)
	}

	result, err := s.service.CompleteFeatures(task, s.featureVector(task, params.Extracted), s.featureVector(task, params.UserInputs), params.PreferUser)
	if err != nil {
		return s.fail(call, "Completion failed", err)
	}

	summary := fmt.Sprintf("Merged %d features for %s, %d still missing", result.Features.Len(), task, len(result.StillMissing))
	return s.succeed(call, summary, result)
}

func (s *Server) handleComputeHealthScore(ctx context.Context, req *mcp.CallToolRequest, params ComputeHealthScoreParams) (*mcp.CallToolResult, any, error) {
	call := s.calls.start("compute_health_score", logrus.Fields{
		"task":            params.Task,
		"features":        len(params.Features),
		"has_probability": params.Probability != nil,
	})

	task, err := domain.ParseTask(params.Task)
	if err != nil {
		return s.fail(call, "Invalid task", err)
	}
	features := s.featureVector(task, params.Features)

	var prediction *service.PredictionResult
	if params.Probability != nil {
		prediction, err = s.service.PredictWith(ctx, inference.FixedPredictor{Probability: *params.Probability}, task, features)
	} else {
		prediction, err = s.service.Predict(ctx, task, features)
	}
	if err != nil {
		return s.fail(call, "Scoring failed", err)
	}
	result := HealthScoreResult{
		Task:            task,
		Probability:     prediction.Probability,
		Label:           &prediction.Label,
		HealthScore:     prediction.HealthScore,
		Breakdown:       prediction.Breakdown,
		TopContributors: prediction.TopContributors,
	}
	return s.succeed(call, scoreSummary(result), result)
}

func (s *Server) handleListTasks(ctx context.Context, req *mcp.CallToolRequest, params ListTasksParams) (*mcp.CallToolResult, any, error) {
	call := s.calls.start("list_tasks", nil)
	tasks := s.service.Tasks()
	return s.succeed(call, fmt.Sprintf("%d tasks available", len(tasks)), map[string]any{"tasks": tasks})
}

func (s *Server) handleGetReport(ctx context.Context, req *mcp.CallToolRequest, params GetReportParams) (*mcp.CallToolResult, any, error) {
	call := s.calls.start("get_report", logrus.Fields{"id": params.ID})
	if params.ID == "" {
		return s.fail(call, "Missing input", errors.New("id is required"))
	}

	report, err := s.store.Get(ctx, params.ID)
	if err != nil {
		return s.fail(call, "Report lookup failed", err)
	}
	return s.succeed(call, fmt.Sprintf("Report %s (%s, %s)", report.ID, report.Task, report.CreatedAt.Format(time.RFC3339)), report)
}

func (s *Server) handleExportReports(ctx context.Context, req *mcp.CallToolRequest, params ExportReportsParams) (*mcp.CallToolResult, any, error) {
	call := s.calls.start("export_reports", nil)

	if err := os.MkdirAll(s.exportDir, 0755); err != nil {
		return s.fail(call, "Failed to create export directory", err)
	}
	filePath := filepath.Join(s.exportDir, fmt.Sprintf("reports_export_%s.json", time.Now().Format("20060102_150405")))

	file, err := os.Create(filePath)
	if err != nil {
		return s.fail(call, "Failed to create export file", err)
	}
	defer file.Close()

	if err := s.store.ExportJSON(ctx, file); err != nil {
		return s.fail(call, "Failed to export reports", err)
	}

	count, err := s.store.Count(ctx, "")
	if err != nil {
		return s.fail(call, "Failed to count reports", err)
	}
	result := ExportReportsResult{FilePath: filePath, Count: count}
	return s.succeed(call, fmt.Sprintf("Exported %d reports to %s", count, filePath), result)
}

// succeed returns a summary line followed by the JSON result.
func (s *Server) succeed(call toolCall, summary string, result any) (*mcp.CallToolResult, any, error) {
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return s.fail(call, "Failed to encode result", err)
	}
	s.calls.end(call, nil)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(payload)},
		},
	}, result, nil
}

// fail reports err to the client as a tool error rather than a protocol error.
func (s *Server) fail(call toolCall, message string, err error) (*mcp.CallToolResult, any, error) {
	s.calls.end(call, err)
	return createErrorResult(message, err), nil, nil
}

// createErrorResult creates a standardized error result for tool calls
func createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}

// featureVector converts a JSON object to a feature vector. Keys named in the task's
// schema come first in model order, the rest follow sorted.
func (s *Server) featureVector(task domain.Task, m map[string]any) *domain.FeatureVector {
	fv := domain.NewFeatureVector(len(m))
	placed := make(map[string]bool, len(m))
	for _, name := range s.service.RequiredFeatures(task) {
		if v, ok := m[name]; ok && !placed[name] {
			fv.Set(name, domain.ValueOf(v))
			placed[name] = true
		}
	}

	extra := make([]string, 0, len(m)-len(placed))
	for name := range m {
		if !placed[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		fv.Set(name, domain.ValueOf(m[name]))
	}
	return fv
}

func scoreSummary(r HealthScoreResult) string {
	return fmt.Sprintf("Health score for %s: %.1f (risk probability %.2f)", r.Task, r.HealthScore, r.Probability)
}
