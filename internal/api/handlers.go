package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/reports"
	"github.com/labscore-server/internal/service"
)

type parseReportRequest struct {
	Task         string                  `json:"task" binding:"required"`
	Text         string                  `json:"text"`
	OCR          *domain.OCRDocument     `json:"ocr"`
	Observations []domain.LabObservation `json:"observations"`
	Required     []string                `json:"required"`
	Persist      bool                    `json:"persist"`
}

type mapFeaturesRequest struct {
	Task     string            `json:"task" binding:"required"`
	Labs     domain.ParsedLabs `json:"labs"`
	Required []string          `json:"required"`
}

type completeFeaturesRequest struct {
	Task       string                `json:"task" binding:"required"`
	Extracted  *domain.FeatureVector `json:"extracted"`
	UserInputs *domain.FeatureVector `json:"user_inputs"`
	PreferUser bool                  `json:"prefer_user"`
}

type scoreRequest struct {
	Task        string                `json:"task" binding:"required"`
	Features    *domain.FeatureVector `json:"features"`
	Probability *float64              `json:"probability" binding:"required"`
}

type scoreResponse struct {
	Task            domain.Task           `json:"task"`
	HealthScore     float64               `json:"health_score"`
	Breakdown       []domain.Contribution `json:"breakdown"`
	TopContributors []string              `json:"top_contributors"`
}

type batchRequest struct {
	Items []service.ScoreItem `json:"items" binding:"required,min=1,max=500"`
}

type predictRequest struct {
	Task     string                `json:"task" binding:"required"`
	Features *domain.FeatureVector `json:"features" binding:"required"`
}

// bindTask parses a task name, writing a 400 and returning false when it is unknown.
func (s *Server) bindTask(c *gin.Context, raw string) (domain.Task, bool) {
	task, err := domain.ParseTask(raw)
	if err != nil {
		s.respondError(c, err)
		return "", false
	}
	return task, true
}

func (s *Server) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.service.Tasks()})
}

func (s *Server) handleTaskSchema(c *gin.Context) {
	task, ok := s.bindTask(c, c.Param("task"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.service.TaskInfo(task))
}

func (s *Server) handleParseReport(c *gin.Context) {
	var req parseReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	task, ok := s.bindTask(c, req.Task)
	if !ok {
		return
	}
	if req.Text == "" && req.OCR == nil && len(req.Observations) == 0 {
		badRequest(c, "One of text, ocr or observations is required", nil)
		return
	}

	result, err := s.service.ParseReport(c.Request.Context(), service.ParseRequest{
		Task:         task,
		Text:         domain.StripNulls(req.Text),
		OCR:          req.OCR,
		Observations: req.Observations,
		Required:     req.Required,
		Persist:      req.Persist,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetReport(c *gin.Context) {
	report, err := s.service.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListReports(c *gin.Context) {
	opts := reports.ListOptions{}
	if raw := c.Query("task"); raw != "" {
		task, ok := s.bindTask(c, raw)
		if !ok {
			return
		}
		opts.Task = task
	}
	for param, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "Invalid "+param, err)
			return
		}
		*dst = n
	}

	list, err := s.service.ListReports(c.Request.Context(), opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": list, "count": len(list)})
}

func (s *Server) handleMapFeatures(c *gin.Context) {
	var req mapFeaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	task, ok := s.bindTask(c, req.Task)
	if !ok {
		return
	}
	if req.Labs == nil {
		req.Labs = domain.ParsedLabs{}
	}

	result, err := s.service.MapFeatures(task, req.Labs, req.Required)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCompleteFeatures(c *gin.Context) {
	var req completeFeaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	task, ok := s.bindTask(c, req.Task)
	if !ok {
		return
	}

	result, err := s.service.CompleteFeatures(task, req.Extracted, req.UserInputs, req.PreferUser)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleScore(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	task, ok := s.bindTask(c, req.Task)
	if !ok {
		return
	}

	resp, err := s.score(task, req.Features, *req.Probability)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) score(task domain.Task, features *domain.FeatureVector, p float64) (scoreResponse, error) {
	result, err := s.service.Score(task, features, p)
	if err != nil {
		return scoreResponse{}, err
	}
	return scoreResponse{
		Task:            task,
		HealthScore:     result.Score,
		Breakdown:       result.Breakdown,
		TopContributors: result.TopContributors(),
	}, nil
}

func (s *Server) handleScoreBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	outcomes, err := s.service.ScoreBatch(c.Request.Context(), req.Items)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": outcomes})
}

func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	task, ok := s.bindTask(c, req.Task)
	if !ok {
		return
	}

	result, err := s.service.Predict(c.Request.Context(), task, req.Features)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
