package service

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/domain"
)

const (
	maxFeaturePenalty = 3.0
	penaltyScale      = 5.0
	labsWeight        = 0.7
	modelWeight       = 0.3
	topContributors   = 3
	minSpan           = 1e-6
)

// ScoringConfigs supplies the per-task scoring configuration.
type ScoringConfigs interface {
	ScoringConfig(task domain.Task) (*domain.ScoringConfig, bool)
}

// HealthScorer blends lab penalties and model risk into a 0-100 score.
type HealthScorer struct {
	configs ScoringConfigs
	logger  *logrus.Logger
}

// NewHealthScorer creates a scorer reading task configuration from configs.
func NewHealthScorer(configs ScoringConfigs, logger *logrus.Logger) *HealthScorer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HealthScorer{configs: configs, logger: logger}
}

// Score computes the health score of a feature vector given the model's risk
// probability p. Tasks without scoring configuration are scored from p alone. A
// non-finite p is treated as certain risk.
func (s *HealthScorer) Score(task domain.Task, features *domain.FeatureVector, p float64) domain.ScoreResult {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		p = 1
	}

	cfg, ok := s.configs.ScoringConfig(task)
	if !ok || len(cfg.Features) == 0 {
		return domain.ScoreResult{
			Score:     round(clamp(100*(1-p), 0, 100), 1),
			Breakdown: []domain.Contribution{},
		}
	}

	total := 0.0
	breakdown := make([]domain.Contribution, 0, len(cfg.Features))
	for _, r := range cfg.Features {
		value, found := features.Lookup(r.Name)
		if !found {
			continue
		}
		x, numeric := value.Float()
		if !numeric || r.Contains(x) {
			continue
		}
		pen := penalty(r, x)
		total += pen
		breakdown = append(breakdown, domain.Contribution{Feature: r.Name, Penalty: round(pen, 2)})
	}

	labs := clamp(100-total*penaltyScale, 0, 100)
	model := clamp(100-100*p, 0, 100)
	final := clamp(labsWeight*labs+modelWeight*model, 0, 100)

	sort.SliceStable(breakdown, func(i, j int) bool {
		return breakdown[i].Penalty > breakdown[j].Penalty
	})
	if len(breakdown) > topContributors {
		breakdown = breakdown[:topContributors]
	}

	s.logger.WithFields(logrus.Fields{
		"task":        task,
		"penalty":     total,
		"probability": p,
		"score":       round(final, 1),
	}).Debug("Computed health score")

	return domain.ScoreResult{Score: round(final, 1), Breakdown: breakdown}
}

// penalty returns the weighted out-of-range penalty of x, at most 3 times the weight.
func penalty(r domain.FeatureRange, x float64) float64 {
	span := math.Max(r.IdealMax-r.IdealMin, minSpan)
	switch r.Transform {
	case domain.TransformPercent:
		mid := (r.IdealMin + r.IdealMax) / 2
		return r.Weight * clamp(math.Abs(x-mid)/span, 0, maxFeaturePenalty)
	default:
		sd := span / 2
		nearest := r.IdealMax
		if x < r.IdealMin {
			nearest = r.IdealMin
		}
		return r.Weight * clamp(math.Abs(x-nearest)/sd, 0, maxFeaturePenalty)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
