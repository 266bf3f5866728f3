package registry

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labscore-server/internal/domain"
)

func TestDefault_LoadsEmbeddedTables(t *testing.T) {
	r := Default()
	assert.Empty(t, r.Issues())

	canon, ok := r.Canonicalizer().FindCanonical("Fasting Blood Sugar")
	require.True(t, ok)
	assert.Equal(t, "glucose", canon)

	assert.Equal(t, "mg/dl", r.Normalizer().Target("glucose"))

	alias, ok := r.Alias("RestingBP")
	require.True(t, ok)
	assert.Equal(t, "trestbps", alias)

	assert.Equal(t,
		[]string{"Pregnancies", "Glucose", "BloodPressure", "SkinThickness", "Insulin", "BMI", "DiabetesPedigreeFunction", "Age"},
		r.RequiredFeatures(domain.TaskDiabetes))
	assert.Len(t, r.RequiredFeatures(domain.TaskParkinsons), 22)
	assert.Empty(t, r.RequiredFeatures(domain.TaskGeneral))
}

func TestDefault_ScoringConfigs(t *testing.T) {
	r := Default()

	heart, ok := r.ScoringConfig(domain.TaskHeart)
	require.True(t, ok)
	names := make([]string, len(heart.Features))
	for i, f := range heart.Features {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"chol", "trestbps", "thalach", "oldpeak"}, names)
	assert.Equal(t, domain.FeatureRange{Name: "chol", IdealMin: 125, IdealMax: 200, Weight: 1.5, Transform: domain.TransformZ}, heart.Features[0])

	anemia, ok := r.ScoringConfig(domain.TaskAnemiaTab)
	require.True(t, ok)
	mch, ok := anemia.Range("MCH")
	require.True(t, ok)
	assert.Equal(t, domain.TransformPercent, mch.Transform)

	_, ok = r.ScoringConfig(domain.TaskAnemiaImg)
	assert.False(t, ok)
	_, ok = r.ScoringConfig(domain.TaskGeneral)
	assert.False(t, ok)
}

func TestDefault_ImputationLookup(t *testing.T) {
	r := Default()

	v, ok := r.Default(domain.TaskDiabetes, "BMI")
	require.True(t, ok)
	assert.Equal(t, domain.Number(32), v)

	v, ok = r.Default(domain.TaskDiabetes, "bmi")
	require.True(t, ok, "falls back to case-insensitive match")
	assert.Equal(t, domain.Number(32), v)

	_, ok = r.Default(domain.TaskParkinsons, "HNR")
	assert.False(t, ok)
}

func TestDerivationRules(t *testing.T) {
	r := Default()

	tests := []struct {
		feature string
		source  domain.Value
		want    domain.Value
	}{
		{"sex_m", domain.Number(1), domain.Number(1)},
		{"sex_m", domain.Number(0), domain.Number(0)},
		{"ExerciseAngina_Y", domain.Number(1.7), domain.Number(1)},
		{"ChestPainType_ATA", domain.Number(1), domain.Number(1)},
		{"ChestPainType_ASY", domain.Number(1), domain.Number(0)},
		{"ChestPainType_ASY", domain.Number(3), domain.Number(1)},
		{"RestingECG_Normal", domain.Number(0), domain.Number(1)},
		{"RestingECG_ST", domain.Number(2), domain.Number(0)},
		{"ST_Slope_Flat", domain.Number(1), domain.Number(1)},
		{"ST_Slope_Up", domain.Number(9), domain.Number(0)},
	}

	for _, tt := range tests {
		t.Run(tt.feature, func(t *testing.T) {
			rule, ok := r.Derivation(domain.TaskHeart, tt.feature)
			require.True(t, ok)
			got, ok := rule.Apply(tt.feature, tt.source)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := r.Derivation(domain.TaskDiabetes, "sex_m")
	assert.False(t, ok, "derivations are declared per task")

	rule, _ := r.Derivation(domain.TaskHeart, "sex_m")
	_, ok = rule.Apply("sex_m", domain.Text("M"))
	assert.False(t, ok)
}

func validFS() fstest.MapFS {
	return fstest.MapFS{
		DocLabs:        {Data: []byte(`{"glucose": ["glucose", "blood sugar"], "chol": ["cholesterol"]}`)},
		DocUnits:       {Data: []byte(`{"glucose": "mg/dl"}`)},
		DocConversions: {Data: []byte(`[{"lab": "glucose", "from": "mmol/l", "to": "mg/dl", "factor": 18}]`)},
		DocAliases:     {Data: []byte(`{"Cholesterol": "chol"}`)},
		DocDerivations: {Data: []byte(`{}`)},
		DocImputation:  {Data: []byte(`{"diabetes": {"Glucose": 120}}`)},
		DocFeatures:    {Data: []byte(`{"diabetes": [{"name": "Glucose"}]}`)},

		"ranges/diabetes.json": {Data: []byte(`{"glucose": {"ideal_min": 70, "ideal_max": 99}}`)},
	}
}

func TestLoadFS_RangeDefaults(t *testing.T) {
	r, err := LoadFS(validFS(), true, nil)
	require.NoError(t, err)

	cfg, ok := r.ScoringConfig(domain.TaskDiabetes)
	require.True(t, ok)
	assert.Equal(t, domain.FeatureRange{Name: "glucose", IdealMin: 70, IdealMax: 99, Weight: 1, Transform: domain.TransformZ}, cfg.Features[0])

	alias, ok := r.Alias("cholesterol")
	require.True(t, ok)
	assert.Equal(t, "chol", alias)
}

func TestLoadFS_InvalidDocumentsDegrade(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		content string
		check   func(t *testing.T, r *Registry)
	}{
		{
			name:    "Negative weight drops the scoring config",
			doc:     "ranges/diabetes.json",
			content: `{"glucose": {"ideal_min": 70, "ideal_max": 99, "weight": -1}}`,
			check: func(t *testing.T, r *Registry) {
				_, ok := r.ScoringConfig(domain.TaskDiabetes)
				assert.False(t, ok)
			},
		},
		{
			name:    "Inverted range drops the scoring config",
			doc:     "ranges/diabetes.json",
			content: `{"glucose": {"ideal_min": 99, "ideal_max": 70}}`,
			check: func(t *testing.T, r *Registry) {
				_, ok := r.ScoringConfig(domain.TaskDiabetes)
				assert.False(t, ok)
			},
		},
		{
			name:    "Unknown transform drops the scoring config",
			doc:     "ranges/diabetes.json",
			content: `{"glucose": {"transform": "log"}}`,
			check: func(t *testing.T, r *Registry) {
				_, ok := r.ScoringConfig(domain.TaskDiabetes)
				assert.False(t, ok)
			},
		},
		{
			name:    "Unparseable synonym table leaves no labs",
			doc:     DocLabs,
			content: `{"glucose": [`,
			check: func(t *testing.T, r *Registry) {
				_, ok := r.Canonicalizer().FindCanonical("glucose")
				assert.False(t, ok)
			},
		},
		{
			name:    "Zero conversion factor is rejected",
			doc:     DocConversions,
			content: `[{"lab": "glucose", "from": "mmol/l", "to": "mg/dl", "factor": 0}]`,
			check: func(t *testing.T, r *Registry) {
				v, u := r.Normalizer().Normalize("glucose", 5.5, "mmol/l", "mg/dl")
				assert.Equal(t, 5.5, v)
				assert.Equal(t, "mmol/l", u)
			},
		},
		{
			name:    "One-hot rule without codes is skipped",
			doc:     DocDerivations,
			content: `{"heart": [{"feature": "cp_", "prefix": true, "kind": "one_hot"}]}`,
			check: func(t *testing.T, r *Registry) {
				_, ok := r.Derivation(domain.TaskHeart, "cp_ta")
				assert.False(t, ok)
			},
		},
		{
			name:    "Unknown task key is skipped",
			doc:     DocFeatures,
			content: `{"kidney": [{"name": "egfr"}], "diabetes": [{"name": "Glucose"}]}`,
			check: func(t *testing.T, r *Registry) {
				assert.Equal(t, []string{"Glucose"}, r.RequiredFeatures(domain.TaskDiabetes))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := validFS()
			fsys[tt.doc] = &fstest.MapFile{Data: []byte(tt.content)}

			r, err := LoadFS(fsys, false, nil)
			require.NoError(t, err)
			require.NotEmpty(t, r.Issues())
			assert.Equal(t, tt.doc, r.Issues()[0].Document)
			tt.check(t, r)

			_, err = LoadFS(fsys, true, nil)
			assert.Error(t, err, "strict mode turns issues into errors")
		})
	}
}

func TestLoadFS_MissingDocuments(t *testing.T) {
	r, err := LoadFS(fstest.MapFS{}, false, nil)
	require.NoError(t, err)
	assert.Len(t, r.Issues(), 7)

	_, ok := r.Canonicalizer().FindCanonical("glucose")
	assert.False(t, ok)
	_, ok = r.ScoringConfig(domain.TaskHeart)
	assert.False(t, ok, "missing ranges are not an issue, just unconfigured")
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	for name, file := range validFS() {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, file.Data, 0o644))
	}

	r, err := Load(domain.RegistryConfig{ConfigDir: dir, Strict: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Glucose"}, r.RequiredFeatures(domain.TaskDiabetes))

	_, err = Load(domain.RegistryConfig{ConfigDir: filepath.Join(dir, "missing")}, nil)
	assert.Error(t, err)
}
