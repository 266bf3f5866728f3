package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/registry"
	"github.com/labscore-server/internal/reports"
)

var (
	// ErrNoPredictor is returned by operations that need a model when none is configured.
	ErrNoPredictor = errors.New("no model predictor configured")
	// ErrStorageDisabled is returned by history operations when no store is configured.
	ErrStorageDisabled = errors.New("report storage is not configured")
)

// SourceImputed marks feature metadata of a value that came from the imputation table.
const SourceImputed = "imputed"

// DefaultBatchWorkers bounds concurrent scoring in ScoreBatch.
const DefaultBatchWorkers = 8

// ParseRequest is the input of ParseReport. Text, OCR tokens and externally extracted
// observations may be combined; at least one is expected.
type ParseRequest struct {
	Task         domain.Task             `json:"task"`
	Text         string                  `json:"text,omitempty"`
	OCR          *domain.OCRDocument     `json:"ocr,omitempty"`
	Observations []domain.LabObservation `json:"observations,omitempty"`
	Required     []string                `json:"required,omitempty"`
	Persist      bool                    `json:"persist,omitempty"`
}

// NormalRange is the ideal interval of a scored feature.
type NormalRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// FeatureMeta describes where a feature value came from and whether it is in range.
type FeatureMeta struct {
	Name        string       `json:"name"`
	Value       domain.Value `json:"value"`
	Unit        string       `json:"unit"`
	Confidence  float64      `json:"confidence"`
	Source      string       `json:"source"`
	NormalRange *NormalRange `json:"normal_range,omitempty"`
	OutOfRange  bool         `json:"out_of_range"`
}

// IngestResult is the output of ParseReport.
type IngestResult struct {
	ReportID     string                  `json:"report_id,omitempty"`
	Task         domain.Task             `json:"task"`
	Features     *domain.FeatureVector   `json:"features"`
	Missing      []string                `json:"missing"`
	Warnings     []string                `json:"warnings"`
	ParsedKeys   []string                `json:"parsed_keys"`
	Meta         []FeatureMeta           `json:"extracted_meta"`
	OutOfRange   []string                `json:"out_of_range_fields"`
	TextLength   int                     `json:"extracted_text_length"`
	Observations []domain.LabObservation `json:"observations"`
}

// CompletionResult is the output of CompleteFeatures.
type CompletionResult struct {
	Features     *domain.FeatureVector `json:"features"`
	StillMissing []string              `json:"still_missing"`
}

// PredictionResult combines a model prediction with the health score it implies.
type PredictionResult struct {
	Task            domain.Task           `json:"task"`
	Label           int                   `json:"label"`
	Probability     float64               `json:"probability"`
	HealthScore     float64               `json:"health_score"`
	Breakdown       []domain.Contribution `json:"breakdown"`
	TopContributors []string              `json:"top_contributors"`
}

// ScoreItem is one entry of a batch. Without a probability the configured predictor is
// asked for one.
type ScoreItem struct {
	Task        domain.Task           `json:"task"`
	Features    *domain.FeatureVector `json:"features"`
	Probability *float64              `json:"probability,omitempty"`
}

// ScoreOutcome is the result of one batch entry. Error is set instead of Score when the
// entry could not be scored.
type ScoreOutcome struct {
	Index       int                 `json:"index"`
	Task        domain.Task         `json:"task"`
	Probability float64             `json:"probability"`
	Label       *int                `json:"label,omitempty"`
	Score       *domain.ScoreResult `json:"score,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// TaskInfo summarizes what the service knows about a task.
type TaskInfo struct {
	Task     domain.Task            `json:"task"`
	Features []registry.FeatureSpec `json:"features"`
	Scored   bool                   `json:"scored"`
	Ranges   []domain.FeatureRange  `json:"ranges,omitempty"`
}

// Options tunes an IngestService.
type Options struct {
	LabelCacheSize int
	BatchWorkers   int
}

// IngestService runs the full reconciliation pipeline: parsing, coalescing, feature
// mapping, prediction, scoring and optional persistence.
type IngestService struct {
	registry  *registry.Registry
	resolver  *CachedResolver
	text      *TextParser
	tokens    *TokenParser
	mapper    *FeatureMapper
	scorer    *HealthScorer
	predictor domain.Predictor
	store     reports.Store
	workers   int
	logger    *logrus.Logger
}

// NewIngestService wires the pipeline. predictor and store may be nil; operations that
// need them then fail with ErrNoPredictor or ErrStorageDisabled.
func NewIngestService(reg *registry.Registry, predictor domain.Predictor, store reports.Store, opts Options, logger *logrus.Logger) (*IngestService, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = DefaultBatchWorkers
	}

	resolver, err := NewCachedResolver(reg.Canonicalizer(), opts.LabelCacheSize, logger)
	if err != nil {
		return nil, err
	}

	return &IngestService{
		registry:  reg,
		resolver:  resolver,
		text:      NewTextParser(resolver),
		tokens:    NewTokenParser(reg.Canonicalizer()),
		mapper:    NewFeatureMapper(reg, logger),
		scorer:    NewHealthScorer(reg, logger),
		predictor: predictor,
		store:     store,
		workers:   opts.BatchWorkers,
		logger:    logger,
	}, nil
}

// ParseReport extracts observations from the request, maps them to the task's features
// and describes every feature's provenance. The general task skips mapping and returns
// every observation as a feature.
func (s *IngestService) ParseReport(ctx context.Context, req ParseRequest) (*IngestResult, error) {
	if !req.Task.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTask, req.Task)
	}

	external := s.normalizeObservations(req.Observations)
	var tokenObs []domain.LabObservation
	if req.OCR != nil {
		tokenObs = domain.ObservationsFromPairs(s.tokens.Parse(req.OCR.Sanitize()), domain.SourceTokenParsing)
	}
	textObs := domain.ObservationsFromPairs(s.text.Parse(req.Text), domain.SourceTextParsing)
	observations := CoalesceObservations(external, tokenObs, textObs)
	if observations == nil {
		observations = make([]domain.LabObservation, 0)
	}

	result := &IngestResult{
		Task:         req.Task,
		ParsedKeys:   make([]string, 0, len(observations)),
		OutOfRange:   make([]string, 0),
		TextLength:   len(req.Text),
		Observations: observations,
	}
	for _, obs := range observations {
		result.ParsedKeys = append(result.ParsedKeys, obs.CanonicalName)
	}

	if req.Task == domain.TaskGeneral {
		features := domain.NewFeatureVector(len(observations))
		for _, obs := range observations {
			value := obs.Value
			if f, ok := value.Float(); ok {
				value = domain.Number(f)
			}
			features.Set(obs.CanonicalName, value)
		}
		result.Features = features
		result.Missing = make([]string, 0)
		result.Warnings = make([]string, 0)
	} else {
		required := req.Required
		if len(required) == 0 {
			required = s.registry.RequiredFeatures(req.Task)
		}
		mapping := s.mapper.Map(req.Task, ObservationsToLabs(observations), required)
		result.Features = mapping.Features
		result.Missing = mapping.Missing
		result.Warnings = mapping.Warnings
	}

	result.Meta = s.describe(req.Task, result.Features, result.Missing, observations)
	for _, m := range result.Meta {
		if m.OutOfRange {
			result.OutOfRange = append(result.OutOfRange, m.Name)
		}
	}

	if req.Persist {
		if s.store == nil {
			return nil, ErrStorageDisabled
		}
		report := &reports.Report{
			Task:         req.Task,
			Text:         req.Text,
			TextLength:   result.TextLength,
			Observations: observations,
			Features:     result.Features,
			Missing:      result.Missing,
			Warnings:     result.Warnings,
		}
		if err := s.store.Save(ctx, report); err != nil {
			return nil, fmt.Errorf("saving report: %w", err)
		}
		result.ReportID = report.ID
	}

	s.logger.WithFields(logrus.Fields{
		"task":         req.Task,
		"text_length":  result.TextLength,
		"observations": len(observations),
		"features":     result.Features.Len(),
		"imputed":      len(result.Missing),
		"out_of_range": len(result.OutOfRange),
		"report_id":    result.ReportID,
	}).Info("Parsed lab report")
	return result, nil
}

// normalizeObservations canonicalizes externally extracted observations and fills in
// source and confidence defaults.
func (s *IngestService) normalizeObservations(in []domain.LabObservation) []domain.LabObservation {
	out := make([]domain.LabObservation, 0, len(in))
	for _, obs := range in {
		name := strings.ToLower(strings.TrimSpace(obs.CanonicalName))
		if name == "" || obs.Value.IsAbsent() {
			continue
		}
		if canonical, ok := s.resolver.FindCanonical(name); ok {
			name = canonical
		}
		obs.CanonicalName = name
		obs.Unit = strings.ToLower(strings.TrimSpace(obs.Unit))
		if !obs.Source.IsValid() {
			obs.Source = domain.SourceLLM
		}
		if obs.Confidence <= 0 || obs.Confidence > 1 {
			obs.Confidence = obs.Source.DefaultConfidence()
		}
		out = append(out, obs)
	}
	return out
}

// describe builds per-feature provenance. Features imputed by the mapper are reported
// with the imputed source and the default confidence.
func (s *IngestService) describe(task domain.Task, features *domain.FeatureVector, missing []string, observations []domain.LabObservation) []FeatureMeta {
	imputed := make(map[string]bool, len(missing))
	for _, name := range missing {
		imputed[name] = true
	}
	byName := make(map[string]domain.LabObservation, len(observations))
	for _, obs := range observations {
		byName[strings.ToLower(obs.CanonicalName)] = obs
	}
	cfg, _ := s.registry.ScoringConfig(task)
	normalizer := s.registry.Normalizer()

	meta := make([]FeatureMeta, 0, features.Len())
	for _, f := range features.Features() {
		m := FeatureMeta{
			Name:       f.Name,
			Value:      f.Value,
			Source:     SourceImputed,
			Confidence: domain.Source("").DefaultConfidence(),
		}

		if !imputed[f.Name] {
			key := strings.ToLower(f.Name)
			obs, ok := byName[key]
			if !ok {
				if target, aliased := s.registry.Alias(key); aliased {
					key = target
					obs, ok = byName[target]
				}
			}
			if ok {
				m.Source = string(obs.Source)
				m.Confidence = obs.Confidence
				m.Unit = obs.Unit
				if v, numeric := obs.Value.Float(); numeric {
					_, m.Unit = normalizer.Normalize(key, v, obs.Unit, normalizer.Target(key))
				}
			}
		}

		if r, ok := cfg.Range(f.Name); ok {
			m.NormalRange = &NormalRange{Min: r.IdealMin, Max: r.IdealMax}
			if x, numeric := f.Value.Float(); numeric && !r.Contains(x) {
				m.OutOfRange = true
			}
		}
		meta = append(meta, m)
	}
	return meta
}

// MapFeatures maps already canonical lab readings to a task's features. An empty
// required list uses the task's registered feature list.
func (s *IngestService) MapFeatures(task domain.Task, labs domain.ParsedLabs, required []string) (domain.MappingResult, error) {
	if !task.IsValid() {
		return domain.MappingResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownTask, task)
	}
	if len(required) == 0 {
		required = s.registry.RequiredFeatures(task)
	}
	return s.mapper.Map(task, labs, required), nil
}

// CompleteFeatures merges extracted features with user-supplied values. Required features
// of the task present on neither side are reported as still missing.
func (s *IngestService) CompleteFeatures(task domain.Task, extracted, user *domain.FeatureVector, preferUser bool) (*CompletionResult, error) {
	if !task.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTask, task)
	}
	merged, missing := MergeFeatures(extracted, user, preferUser)
	for _, name := range s.registry.RequiredFeatures(task) {
		if _, ok := merged.Lookup(name); ok {
			continue
		}
		merged.Set(name, domain.Absent())
		missing = append(missing, name)
	}
	return &CompletionResult{Features: merged, StillMissing: missing}, nil
}

// Score computes the health score for a known risk probability. A probability outside
// [0, 1] is rejected with a ValidationError.
func (s *IngestService) Score(task domain.Task, features *domain.FeatureVector, p float64) (domain.ScoreResult, error) {
	if err := domain.CheckProbability(p); err != nil {
		return domain.ScoreResult{}, err
	}
	return s.scorer.Score(task, features, p), nil
}

// Predict runs the configured model over the features and scores the result.
func (s *IngestService) Predict(ctx context.Context, task domain.Task, features *domain.FeatureVector) (*PredictionResult, error) {
	return s.PredictWith(ctx, s.predictor, task, features)
}

// PredictWith is Predict with an explicit predictor, such as a fixed probability
// computed by the caller.
func (s *IngestService) PredictWith(ctx context.Context, predictor domain.Predictor, task domain.Task, features *domain.FeatureVector) (*PredictionResult, error) {
	if predictor == nil {
		return nil, ErrNoPredictor
	}
	if !task.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTask, task)
	}

	prediction, err := predictor.Predict(ctx, task, features)
	if err != nil {
		return nil, fmt.Errorf("predicting %s: %w", task, err)
	}
	score := s.scorer.Score(task, features, prediction.Probability)

	return &PredictionResult{
		Task:            task,
		Label:           prediction.Label,
		Probability:     prediction.Probability,
		HealthScore:     score.Score,
		Breakdown:       score.Breakdown,
		TopContributors: score.TopContributors(),
	}, nil
}

// ScoreBatch scores every item concurrently. Per-item failures are reported in the
// outcome; the returned error is set only when ctx is cancelled.
func (s *IngestService) ScoreBatch(ctx context.Context, items []ScoreItem) ([]ScoreOutcome, error) {
	outcomes := make([]ScoreOutcome, len(items))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, item := range items {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.scoreItem(gCtx, i, item)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.WithField("batch_size", len(items)).Debug("Scored batch")
	return outcomes, nil
}

func (s *IngestService) scoreItem(ctx context.Context, index int, item ScoreItem) ScoreOutcome {
	out := ScoreOutcome{Index: index, Task: item.Task}
	if !item.Task.IsValid() {
		out.Error = fmt.Sprintf("%v: %q", domain.ErrUnknownTask, item.Task)
		return out
	}

	if item.Probability != nil {
		if err := domain.CheckProbability(*item.Probability); err != nil {
			out.Error = err.Error()
			return out
		}
		out.Probability = *item.Probability
	} else {
		if s.predictor == nil {
			out.Error = ErrNoPredictor.Error()
			return out
		}
		prediction, err := s.predictor.Predict(ctx, item.Task, item.Features)
		if err != nil {
			out.Error = err.Error()
			return out
		}
		out.Probability = prediction.Probability
		out.Label = &prediction.Label
	}

	score := s.scorer.Score(item.Task, item.Features, out.Probability)
	out.Score = &score
	return out
}

// Tasks describes every supported task.
func (s *IngestService) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, len(domain.AllTasks))
	for _, task := range domain.AllTasks {
		out = append(out, s.TaskInfo(task))
	}
	return out
}

// TaskInfo describes one task's feature schema and scoring configuration.
func (s *IngestService) TaskInfo(task domain.Task) TaskInfo {
	info := TaskInfo{Task: task, Features: s.registry.Schema(task)}
	if cfg, ok := s.registry.ScoringConfig(task); ok {
		info.Scored = true
		info.Ranges = append([]domain.FeatureRange(nil), cfg.Features...)
	}
	return info
}

// RequiredFeatures returns the task's model input names in model order.
func (s *IngestService) RequiredFeatures(task domain.Task) []string {
	return s.registry.RequiredFeatures(task)
}

// GetReport returns a stored report.
func (s *IngestService) GetReport(ctx context.Context, id string) (*reports.Report, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	return s.store.Get(ctx, id)
}

// ListReports returns stored reports newest first.
func (s *IngestService) ListReports(ctx context.Context, opts reports.ListOptions) ([]*reports.Report, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	return s.store.List(ctx, opts)
}

// ResolverStats returns the label cache counters.
func (s *IngestService) ResolverStats() ResolverStats {
	return s.resolver.Stats()
}
