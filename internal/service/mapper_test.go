package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/registry"
)

func floatOf(t *testing.T, fv *domain.FeatureVector, name string) float64 {
	t.Helper()
	v, ok := fv.Get(name)
	require.True(t, ok, "feature %s not set", name)
	f, ok := v.Float()
	require.True(t, ok, "feature %s not numeric: %v", name, v)
	return f
}

func TestFeatureMapper_ImputesEverythingFromEmptyInput(t *testing.T) {
	mapper := NewFeatureMapper(registry.Default(), quietLogger())

	result := mapper.Map(domain.TaskDiabetes, domain.ParsedLabs{}, []string{"Glucose", "BMI", "Age"})

	assert.Equal(t, []string{"Glucose", "BMI", "Age"}, result.Features.Names())
	assert.Equal(t, 120.0, floatOf(t, result.Features, "Glucose"))
	assert.Equal(t, 32.0, floatOf(t, result.Features, "BMI"))
	assert.Equal(t, 29.0, floatOf(t, result.Features, "Age"))
	assert.Equal(t, []string{"Glucose", "BMI", "Age"}, result.Missing)
	assert.Equal(t, []string{
		"Missing field Glucose, imputed with default value",
		"Missing field BMI, imputed with default value",
		"Missing field Age, imputed with default value",
	}, result.Warnings)
}

func TestFeatureMapper_DirectMatchNormalizesUnits(t *testing.T) {
	mapper := NewFeatureMapper(registry.Default(), quietLogger())

	parsed := domain.ParsedLabs{
		"glucose": {Value: domain.Number(6), Unit: "mmol/l"},
		"bmi":     {Value: domain.Number(27.5)},
	}
	result := mapper.Map(domain.TaskDiabetes, parsed, []string{"Glucose", "BMI"})

	assert.InDelta(t, 108.0, floatOf(t, result.Features, "Glucose"), 1e-9)
	assert.Equal(t, 27.5, floatOf(t, result.Features, "BMI"))
	assert.Empty(t, result.Missing)
	assert.Empty(t, result.Warnings)
	assert.NotNil(t, result.Missing)
}

func TestFeatureMapper_HeartDerivations(t *testing.T) {
	mapper := NewFeatureMapper(registry.Default(), quietLogger())

	parsed := domain.ParsedLabs{
		"cp":      {Value: domain.Number(2)},
		"sex":     {Value: domain.Number(1)},
		"exang":   {Value: domain.Number(0)},
		"restecg": {Value: domain.Number(1)},
		"slope":   {Value: domain.Number(0)},
		"chol":    {Value: domain.Number(5), Unit: "mmol/l"},
	}
	required := []string{
		"ChestPainType_NAP", "ChestPainType_ASY", "Sex_M", "ExerciseAngina_Y",
		"RestingECG_ST", "RestingECG_LVH", "ST_Slope_Up", "Cholesterol",
	}
	result := mapper.Map(domain.TaskHeart, parsed, required)

	assert.Empty(t, result.Missing)
	assert.Equal(t, 1.0, floatOf(t, result.Features, "ChestPainType_NAP"))
	assert.Equal(t, 0.0, floatOf(t, result.Features, "ChestPainType_ASY"))
	assert.Equal(t, 1.0, floatOf(t, result.Features, "Sex_M"))
	assert.Equal(t, 0.0, floatOf(t, result.Features, "ExerciseAngina_Y"))
	assert.Equal(t, 1.0, floatOf(t, result.Features, "RestingECG_ST"))
	assert.Equal(t, 0.0, floatOf(t, result.Features, "RestingECG_LVH"))
	assert.Equal(t, 1.0, floatOf(t, result.Features, "ST_Slope_Up"))
	assert.InDelta(t, 193.35, floatOf(t, result.Features, "Cholesterol"), 1e-9)
}

func TestFeatureMapper_NonNumericDerivationSourceIsImputed(t *testing.T) {
	mapper := NewFeatureMapper(registry.Default(), quietLogger())

	parsed := domain.ParsedLabs{"cp": {Value: domain.Text("typical")}}
	result := mapper.Map(domain.TaskHeart, parsed, []string{"ChestPainType_TA"})

	assert.Equal(t, []string{"ChestPainType_TA"}, result.Missing)
	assert.Equal(t, 0.0, floatOf(t, result.Features, "ChestPainType_TA"))
}

func TestFeatureMapper_AliasPassthroughOutsideHeart(t *testing.T) {
	mapper := NewFeatureMapper(registry.Default(), quietLogger())

	parsed := domain.ParsedLabs{
		"skin_thickness": {Value: domain.Number(30), Unit: "mm"},
		// Derivations are heart-only, so the raw code passes through here.
		"sex": {Value: domain.Number(1)},
	}
	result := mapper.Map(domain.TaskDiabetes, parsed, []string{"SkinThickness", "Sex_M"})

	assert.Equal(t, 30.0, floatOf(t, result.Features, "SkinThickness"))
	assert.Equal(t, 1.0, floatOf(t, result.Features, "Sex_M"))
	assert.Empty(t, result.Missing)
}

func TestFeatureMapper_TextValuesPassThrough(t *testing.T) {
	mapper := NewFeatureMapper(registry.Default(), quietLogger())

	parsed := domain.ParsedLabs{"thal": {Value: domain.Text("reversible")}}
	result := mapper.Map(domain.TaskHeart, parsed, []string{"thal"})

	v, ok := result.Features.Get("thal")
	require.True(t, ok)
	assert.Equal(t, domain.Text("reversible"), v)
}

func TestFeatureMapper_DuplicateRequiredNames(t *testing.T) {
	mapper := NewFeatureMapper(registry.Default(), quietLogger())

	result := mapper.Map(domain.TaskDiabetes, domain.ParsedLabs{}, []string{"Age", "Age"})

	assert.Equal(t, 1, result.Features.Len())
	assert.Equal(t, []string{"Age"}, result.Missing)
	assert.Len(t, result.Warnings, 1)
}

func TestFeatureMapper_UnknownFeatureImputesZero(t *testing.T) {
	mapper := NewFeatureMapper(registry.Default(), quietLogger())

	result := mapper.Map(domain.TaskParkinsons, domain.ParsedLabs{}, []string{"custom_marker"})

	assert.Equal(t, 0.0, floatOf(t, result.Features, "custom_marker"))
	assert.Equal(t, []string{"custom_marker"}, result.Missing)
}
