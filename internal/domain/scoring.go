package domain

import "math"

// CheckProbability returns a ValidationError unless p is a finite number in [0, 1].
func CheckProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return NewValidationError("probability", "must be between 0 and 1", p)
	}
	return nil
}

// FeatureRange is the scoring rule for one feature: its ideal interval, its weight and the
// penalty transform applied outside the interval.
type FeatureRange struct {
	Name      string    `json:"name" validate:"required"`
	IdealMin  float64   `json:"ideal_min"`
	IdealMax  float64   `json:"ideal_max" validate:"gtefield=IdealMin"`
	Weight    float64   `json:"weight" validate:"gte=0"`
	Transform Transform `json:"transform" validate:"oneof=z percent"`
}

// Contains reports whether x lies within the inclusive ideal interval.
func (r FeatureRange) Contains(x float64) bool {
	return r.IdealMin <= x && x <= r.IdealMax
}

// ScoringConfig is the ordered, immutable list of scored features for one task.
type ScoringConfig struct {
	Task     Task           `json:"task"`
	Features []FeatureRange `json:"features" validate:"dive"`
}

// Range returns the rule for the named feature, matched case-insensitively.
func (c *ScoringConfig) Range(name string) (FeatureRange, bool) {
	if c == nil {
		return FeatureRange{}, false
	}
	key := foldKey(name)
	for _, r := range c.Features {
		if foldKey(r.Name) == key {
			return r, true
		}
	}
	return FeatureRange{}, false
}

// Contribution is one feature's penalty in a score breakdown.
type Contribution struct {
	Feature string  `json:"feature"`
	Penalty float64 `json:"penalty"`
}

// ScoreResult is a bounded health score with its top penalty contributors.
type ScoreResult struct {
	Score     float64        `json:"score"`
	Breakdown []Contribution `json:"breakdown"`
}

// TopContributors returns the feature names of the breakdown in rank order.
func (r ScoreResult) TopContributors() []string {
	out := make([]string, len(r.Breakdown))
	for i, c := range r.Breakdown {
		out[i] = c.Feature
	}
	return out
}

// Prediction is the output of an external model for one feature vector.
type Prediction struct {
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
}
