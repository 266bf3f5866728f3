package registry

import (
	"math"
	"strconv"
	"strings"

	"github.com/labscore-server/internal/domain"
)

// DerivationKind selects how a derived feature is computed from its source value.
type DerivationKind string

const (
	// DerivationBoolean yields 1 when the truncated source value equals 1, else 0.
	DerivationBoolean DerivationKind = "boolean"
	// DerivationOneHot yields 1 when the source code maps to the label that ends the
	// feature name, else 0.
	DerivationOneHot DerivationKind = "one_hot"
)

// DerivationRule computes a boolean or one-hot feature from an aliased canonical value.
type DerivationRule struct {
	Feature string            `json:"feature" validate:"required"`
	Prefix  bool              `json:"prefix"`
	Kind    DerivationKind    `json:"kind" validate:"oneof=boolean one_hot"`
	Codes   map[string]string `json:"codes,omitempty" validate:"required_if=Kind one_hot"`
}

// Matches reports whether the rule applies to the lower-cased feature name.
func (r DerivationRule) Matches(name string) bool {
	if r.Prefix {
		return strings.HasPrefix(name, r.Feature)
	}
	return name == r.Feature
}

// Apply derives the feature value from the source value. ok is false when the source
// is not numeric.
func (r DerivationRule) Apply(name string, source domain.Value) (domain.Value, bool) {
	f, ok := source.Float()
	if !ok {
		return domain.Absent(), false
	}
	code := int(math.Trunc(f))

	switch r.Kind {
	case DerivationBoolean:
		return boolFeature(code == 1), true
	case DerivationOneHot:
		label := name
		if i := strings.LastIndex(name, "_"); i >= 0 {
			label = name[i+1:]
		}
		mapped, known := r.Codes[strconv.Itoa(code)]
		return boolFeature(known && strings.EqualFold(mapped, label)), true
	default:
		return source, true
	}
}

func boolFeature(b bool) domain.Value {
	if b {
		return domain.Number(1)
	}
	return domain.Number(0)
}

// FeatureSpec describes one input of a task's model.
type FeatureSpec struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type,omitempty" validate:"omitempty,oneof=numeric categorical boolean"`
}

// ImputedDefault is the population default substituted for a missing feature.
type ImputedDefault struct {
	Name  string       `json:"name"`
	Value domain.Value `json:"value"`
}
