package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/labscore-server/internal/domain"
)

const (
	tasksURI          = "labscore://tasks"
	taskURITemplate   = "labscore://tasks/{task}"
	reportURITemplate = "labscore://reports/{id}"
	jsonMIME          = "application/json"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         tasksURI,
		Name:        "tasks",
		Description: "Supported tasks with their feature schemas and scoring ranges.",
		MIMEType:    jsonMIME,
	}, s.readTasks)
	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: taskURITemplate,
		Name:        "task",
		Description: "Feature schema and scoring ranges of one task.",
		MIMEType:    jsonMIME,
	}, s.readTask)

	if s.store != nil {
		s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
			URITemplate: reportURITemplate,
			Name:        "report",
			Description: "A stored lab report.",
			MIMEType:    jsonMIME,
		}, s.readReport)
	}
}

func (s *Server) readTasks(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, map[string]any{"tasks": s.service.Tasks()})
}

func (s *Server) readTask(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	raw, ok := strings.CutPrefix(req.Params.URI, "labscore://tasks/")
	if !ok {
		return nil, fmt.Errorf("unsupported resource URI: %s", req.Params.URI)
	}
	task, err := domain.ParseTask(raw)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, s.service.TaskInfo(task))
}

func (s *Server) readReport(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	id, ok := strings.CutPrefix(req.Params.URI, "labscore://reports/")
	if !ok || id == "" {
		return nil, fmt.Errorf("unsupported resource URI: %s", req.Params.URI)
	}
	report, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, report)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: jsonMIME, Text: string(data)}},
	}, nil
}
