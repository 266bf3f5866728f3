package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/registry"
)

type staticConfigs map[domain.Task]*domain.ScoringConfig

func (s staticConfigs) ScoringConfig(task domain.Task) (*domain.ScoringConfig, bool) {
	cfg, ok := s[task]
	return cfg, ok
}

func vector(kv ...any) *domain.FeatureVector {
	fv := domain.NewFeatureVector(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		fv.Set(kv[i].(string), domain.ValueOf(kv[i+1]))
	}
	return fv
}

func TestHealthScorer_InRangeHeart(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())

	features := vector("chol", 180.0, "trestbps", 110.0, "thalach", 150.0, "oldpeak", 0.5)
	result := scorer.Score(domain.TaskHeart, features, 0.05)

	assert.InDelta(t, 98.5, result.Score, 1e-9)
	assert.GreaterOrEqual(t, result.Score, 90.0)
	assert.Empty(t, result.Breakdown)
	assert.NotNil(t, result.Breakdown)
}

func TestHealthScorer_FallbackWithoutConfig(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())

	result := scorer.Score(domain.TaskAnemiaImg, domain.NewFeatureVector(0), 0.25)
	assert.Equal(t, 75.0, result.Score)
	assert.Empty(t, result.Breakdown)

	result = scorer.Score(domain.TaskGeneral, nil, 0.123)
	assert.InDelta(t, 87.7, result.Score, 1e-9)

	result = scorer.Score(domain.TaskGeneral, nil, 1.7)
	assert.Equal(t, 0.0, result.Score)
}

func TestHealthScorer_ZPenalty(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())

	// span 75, sd 37.5, distance 40 above the max: 40/37.5*1.5 = 1.6
	result := scorer.Score(domain.TaskHeart, vector("chol", 240.0), 0)

	require.Len(t, result.Breakdown, 1)
	assert.Equal(t, "chol", result.Breakdown[0].Feature)
	assert.InDelta(t, 1.6, result.Breakdown[0].Penalty, 1e-9)
	assert.InDelta(t, 94.4, result.Score, 1e-9)
}

func TestHealthScorer_ZPenaltyBelowRange(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())

	// distance 30 below min 90, sd 15: 2*1.2 = 2.4
	result := scorer.Score(domain.TaskHeart, vector("trestbps", 60.0), 0)

	require.Len(t, result.Breakdown, 1)
	assert.InDelta(t, 2.4, result.Breakdown[0].Penalty, 1e-9)
}

func TestHealthScorer_PercentPenaltyAndCap(t *testing.T) {
	configs := staticConfigs{domain.TaskAnemiaTab: {
		Task: domain.TaskAnemiaTab,
		Features: []domain.FeatureRange{
			{Name: "mcv", IdealMin: 10, IdealMax: 20, Weight: 1, Transform: domain.TransformPercent},
		},
	}}
	scorer := NewHealthScorer(configs, quietLogger())

	// |35-15|/10 = 2
	result := scorer.Score(domain.TaskAnemiaTab, vector("mcv", 35.0), 0)
	require.Len(t, result.Breakdown, 1)
	assert.InDelta(t, 2.0, result.Breakdown[0].Penalty, 1e-9)
	assert.InDelta(t, 93.0, result.Score, 1e-9)

	result = scorer.Score(domain.TaskAnemiaTab, vector("mcv", 1e6), 0)
	assert.InDelta(t, maxFeaturePenalty, result.Breakdown[0].Penalty, 1e-9)
}

func TestHealthScorer_ZeroSpanRange(t *testing.T) {
	configs := staticConfigs{domain.TaskHeart: {
		Features: []domain.FeatureRange{{Name: "x", IdealMin: 5, IdealMax: 5, Weight: 2, Transform: domain.TransformZ}},
	}}
	scorer := NewHealthScorer(configs, quietLogger())

	result := scorer.Score(domain.TaskHeart, vector("x", 5.1), 0)
	require.Len(t, result.Breakdown, 1)
	assert.InDelta(t, 6.0, result.Breakdown[0].Penalty, 1e-9)
}

func TestHealthScorer_TopThreeDescending(t *testing.T) {
	configs := staticConfigs{domain.TaskDiabetes: {
		Features: []domain.FeatureRange{
			{Name: "a", IdealMin: 0, IdealMax: 10, Weight: 1, Transform: domain.TransformZ},
			{Name: "b", IdealMin: 0, IdealMax: 10, Weight: 1, Transform: domain.TransformZ},
			{Name: "c", IdealMin: 0, IdealMax: 10, Weight: 1, Transform: domain.TransformZ},
			{Name: "d", IdealMin: 0, IdealMax: 10, Weight: 1, Transform: domain.TransformZ},
		},
	}}
	scorer := NewHealthScorer(configs, quietLogger())

	// sd 5: penalties 0.2, 1.0, 2.0, 1.0
	features := vector("a", 11.0, "b", 15.0, "c", 20.0, "d", 15.0)
	result := scorer.Score(domain.TaskDiabetes, features, 0.5)

	assert.Equal(t, []string{"c", "b", "d"}, result.TopContributors())
	assert.Equal(t, 2.0, result.Breakdown[0].Penalty)
}

func TestHealthScorer_MatchesFeatureNamesLoosely(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())

	// blood_pressure in the diabetes ranges matches the BloodPressure feature.
	result := scorer.Score(domain.TaskDiabetes, vector("BloodPressure", 150.0, "Glucose", 85.0), 0)
	require.Len(t, result.Breakdown, 1)
	assert.Equal(t, "blood_pressure", result.Breakdown[0].Feature)
}

func TestHealthScorer_IgnoresNonNumericAndAbsent(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())

	features := domain.NewFeatureVector(2)
	features.Set("chol", domain.Text("high"))
	features.Set("trestbps", domain.Absent())
	result := scorer.Score(domain.TaskHeart, features, 0)

	assert.Equal(t, 100.0, result.Score)
	assert.Empty(t, result.Breakdown)
}

func TestHealthScorer_NonFiniteProbability(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())

	assert.Equal(t, 0.0, scorer.Score(domain.TaskGeneral, nil, math.NaN()).Score)
	assert.Equal(t, 70.0, scorer.Score(domain.TaskHeart, vector("chol", 150.0), math.Inf(1)).Score)
}

func TestHealthScorer_ModelComponentClamped(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())
	features := vector("chol", 1e6, "trestbps", 1e6, "thalach", 1e6, "oldpeak", 1e6)

	assert.Equal(t, scorer.Score(domain.TaskHeart, features, 0), scorer.Score(domain.TaskHeart, features, -1))
	assert.Equal(t, scorer.Score(domain.TaskHeart, features, 1), scorer.Score(domain.TaskHeart, features, 2))
}

func TestHealthScorer_StrictlyDecreasingInProbability(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())
	probabilities := []float64{0, 0.1, 0.5, 0.9, 1}

	for _, task := range domain.AllTasks {
		for _, chol := range []float64{-1000, 0, 80, 180, 250, 1e9} {
			features := vector("chol", chol, "trestbps", chol, "Glucose", chol, "hemoglobin", chol, "HNR", chol)
			for i := 1; i < len(probabilities); i++ {
				lower := scorer.Score(task, features, probabilities[i-1]).Score
				higher := scorer.Score(task, features, probabilities[i]).Score
				assert.Greater(t, lower, higher, "%s: p=%v vs p=%v", task, probabilities[i-1], probabilities[i])
			}
		}
	}
}

func TestHealthScorer_Properties(t *testing.T) {
	scorer := NewHealthScorer(registry.Default(), quietLogger())

	probabilities := []float64{-0.5, 0, 0.1, 0.33, 0.5, 0.9, 1, 2}
	values := []float64{-1000, 0, 80, 180, 250, 1e9}

	for _, task := range domain.AllTasks {
		for _, chol := range values {
			features := vector("chol", chol, "trestbps", chol, "Glucose", chol, "hemoglobin", chol, "HNR", chol)
			prev := math.Inf(1)
			for _, p := range probabilities {
				first := scorer.Score(task, features, p)
				second := scorer.Score(task, features, p)

				assert.Equal(t, first, second, "deterministic")
				assert.GreaterOrEqual(t, first.Score, 0.0)
				assert.LessOrEqual(t, first.Score, 100.0)
				assert.LessOrEqual(t, len(first.Breakdown), 3)
				assert.LessOrEqual(t, first.Score, prev, "non-increasing in p")
				prev = first.Score
			}
		}
	}
}
