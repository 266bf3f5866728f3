package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureVector_SetKeepsOrder(t *testing.T) {
	fv := NewFeatureVector(3)
	fv.Set("Glucose", Number(120))
	fv.Set("BMI", Number(32))
	fv.Set("Age", Number(29))
	fv.Set("Glucose", Number(99))

	assert.Equal(t, []string{"Glucose", "BMI", "Age"}, fv.Names())
	v, ok := fv.Get("Glucose")
	require.True(t, ok)
	assert.Equal(t, Number(99), v)

	_, ok = fv.Get("glucose")
	assert.False(t, ok, "Get is exact")
}

func TestFeatureVector_ZeroValueUsable(t *testing.T) {
	var fv FeatureVector
	fv.Set("chol", Number(200))
	assert.Equal(t, 1, fv.Len())

	var nilVec *FeatureVector
	assert.Equal(t, 0, nilVec.Len())
	_, ok := nilVec.Lookup("chol")
	assert.False(t, ok)
	assert.Equal(t, 0, nilVec.Clone().Len())
}

func TestFeatureVector_Lookup(t *testing.T) {
	fv := FeatureVectorFrom(
		Feature{Name: "BloodPressure", Value: Number(72)},
		Feature{Name: "blood_pressure", Value: Number(80)},
		Feature{Name: "HbA1c", Value: Number(5.2)},
	)

	v, ok := fv.Lookup("blood_pressure")
	require.True(t, ok)
	assert.Equal(t, Number(72), v, "first match in vector order wins")

	v, ok = fv.Lookup("hba1c")
	require.True(t, ok)
	assert.Equal(t, Number(5.2), v)

	_, ok = fv.Lookup("insulin")
	assert.False(t, ok)
}

func TestFeatureVector_CloneIsIndependent(t *testing.T) {
	fv := FeatureVectorFrom(Feature{Name: "age", Value: Number(54)})
	clone := fv.Clone()
	clone.Set("age", Number(60))
	clone.Set("sex", Number(1))

	v, _ := fv.Get("age")
	assert.Equal(t, Number(54), v)
	assert.Equal(t, 1, fv.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestFeatureVector_JSONRoundTripPreservesOrder(t *testing.T) {
	input := `{"trestbps":130,"chol":246,"sex":"M","fbs":false,"ca":null}`

	var fv FeatureVector
	require.NoError(t, json.Unmarshal([]byte(input), &fv))
	assert.Equal(t, []string{"trestbps", "chol", "sex", "fbs", "ca"}, fv.Names())

	v, _ := fv.Get("sex")
	assert.Equal(t, Text("M"), v)
	v, _ = fv.Get("ca")
	assert.True(t, v.IsAbsent())

	out, err := json.Marshal(&fv)
	require.NoError(t, err)
	assert.Equal(t, input, string(out))
}

func TestFeatureVector_UnmarshalRejectsNonObject(t *testing.T) {
	var fv FeatureVector
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &fv))
}

func TestFeatureVector_Map(t *testing.T) {
	fv := FeatureVectorFrom(
		Feature{Name: "hemoglobin", Value: Number(13.1)},
		Feature{Name: "gender", Value: Text("F")},
	)
	assert.Equal(t, map[string]any{"hemoglobin": 13.1, "gender": "F"}, fv.Map())
}

func TestMappingResult_JSON(t *testing.T) {
	res := MappingResult{
		Features: FeatureVectorFrom(Feature{Name: "Glucose", Value: Number(120)}),
		Missing:  []string{"Glucose"},
		Warnings: []string{"Missing field Glucose, imputed with default value"},
	}
	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"features":{"Glucose":120},"missing":["Glucose"],"warnings":["Missing field Glucose, imputed with default value"]}`, string(out))
}
