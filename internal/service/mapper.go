package service

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/registry"
)

// FeatureMapper turns canonical lab readings into the exact feature vector a task's
// model expects.
type FeatureMapper struct {
	registry *registry.Registry
	logger   *logrus.Logger
}

// NewFeatureMapper creates a mapper over the given registry.
func NewFeatureMapper(reg *registry.Registry, logger *logrus.Logger) *FeatureMapper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FeatureMapper{registry: reg, logger: logger}
}

// Map builds one feature per required name, in the order given. Each feature is taken
// from the lab of the same name, from an aliased lab (deriving one-hot and boolean
// encodings where the task declares them), or else imputed from the task defaults.
// Imputed features are listed in Missing with one warning each.
func (m *FeatureMapper) Map(task domain.Task, parsed domain.ParsedLabs, required []string) domain.MappingResult {
	canonical := m.canonicalValues(parsed)

	result := domain.MappingResult{
		Features: domain.NewFeatureVector(len(required)),
		Missing:  make([]string, 0),
		Warnings: make([]string, 0),
	}

	for _, name := range required {
		if _, done := result.Features.Get(name); done {
			continue
		}
		value, ok := m.resolve(task, name, canonical)
		if !ok {
			result.Missing = append(result.Missing, name)
			value, ok = m.registry.Default(task, name)
			if !ok {
				value = domain.Number(0)
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf("Missing field %s, imputed with default value", name))
		}
		result.Features.Set(name, value)
	}

	m.logger.WithFields(logrus.Fields{
		"task":     task,
		"required": len(required),
		"parsed":   len(parsed),
		"imputed":  len(result.Missing),
	}).Debug("Mapped lab readings to features")
	return result
}

// canonicalValues keys readings by lower-cased lab name, converting numeric values to
// each lab's target unit.
func (m *FeatureMapper) canonicalValues(parsed domain.ParsedLabs) map[string]domain.Value {
	normalizer := m.registry.Normalizer()
	out := make(map[string]domain.Value, len(parsed))
	for lab, reading := range parsed {
		key := strings.ToLower(lab)
		if reading.Value.IsAbsent() {
			continue
		}
		if f, ok := reading.Value.Float(); ok && reading.Value.Kind() == domain.KindNumeric {
			v, _ := normalizer.Normalize(key, f, reading.Unit, normalizer.Target(key))
			out[key] = domain.Number(v)
			continue
		}
		out[key] = reading.Value
	}
	return out
}

func (m *FeatureMapper) resolve(task domain.Task, name string, canonical map[string]domain.Value) (domain.Value, bool) {
	lower := strings.ToLower(name)
	if v, ok := canonical[lower]; ok {
		return v, true
	}

	target, ok := m.registry.Alias(lower)
	if !ok {
		return domain.Absent(), false
	}
	source, ok := canonical[target]
	if !ok {
		return domain.Absent(), false
	}

	rule, ok := m.registry.Derivation(task, lower)
	if !ok {
		return source, true
	}
	return rule.Apply(lower, source)
}
