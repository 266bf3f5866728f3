package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/labscore-server/internal/domain"
)

const interpretPrompt = "interpret_lab_report"

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        interpretPrompt,
		Description: "Workflow for turning a lab report into a health score for one task.",
		Arguments: []*mcp.PromptArgument{
			{Name: "task", Description: "Prediction task, e.g. heart or diabetes", Required: true},
			{Name: "report_text", Description: "Lab report text to work from"},
		},
	}, s.getInterpretPrompt)
}

func (s *Server) getInterpretPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	task, err := domain.ParseTask(req.Params.Arguments["task"])
	if err != nil {
		return nil, err
	}
	info := s.service.TaskInfo(task)

	var b strings.Builder
	fmt.Fprintf(&b, "Estimate a health score for the %s task from a lab report.\n\n", task)
	b.WriteString("1. Call parse_lab_report with the report text and any values you read yourself as observations.\n")
	b.WriteString("2. Ask the user for the features listed as missing, then call complete_features with their answers.\n")
	b.WriteString("3. Call compute_health_score with the completed features. Give a probability only if one is already known.\n")
	b.WriteString("4. Explain the score using the top contributors and the normal ranges below. Do not diagnose.\n\n")

	names := make([]string, len(info.Features))
	for i, f := range info.Features {
		names[i] = f.Name
	}
	fmt.Fprintf(&b, "Features expected by the model: %s\n", strings.Join(names, ", "))
	if len(info.Ranges) > 0 {
		b.WriteString("Normal ranges:\n")
		for _, r := range info.Ranges {
			fmt.Fprintf(&b, "- %s: %g to %g\n", r.Name, r.IdealMin, r.IdealMax)
		}
	}
	if text := strings.TrimSpace(req.Params.Arguments["report_text"]); text != "" {
		fmt.Fprintf(&b, "\nReport:\n%s\n", domain.StripNulls(text))
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Lab report scoring workflow for %s", task),
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: b.String()}},
		},
	}, nil
}
