package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripNulls(t *testing.T) {
	assert.Equal(t, "Glucose 110", StripNulls("Glu\x00cose 110\x00"))
	assert.Equal(t, "clean", StripNulls("clean"))
}

func TestFeatureVector_Sanitize(t *testing.T) {
	fv := FeatureVectorFrom(
		Feature{Name: "gen\x00der", Value: Text("F\x00")},
		Feature{Name: "hemoglobin", Value: Number(12.5)},
	)

	clean := fv.Sanitize()
	assert.Equal(t, []string{"gender", "hemoglobin"}, clean.Names())
	v, _ := clean.Get("gender")
	assert.Equal(t, Text("F"), v)

	orig, _ := fv.Get("gen\x00der")
	assert.Equal(t, Text("F\x00"), orig, "input is not mutated")
}

func TestSanitizeObservations(t *testing.T) {
	obs := []LabObservation{{
		CanonicalName: "glucose\x00",
		Value:         Text("1\x0010"),
		Unit:          "mg/dl\x00",
		Confidence:    0.93,
		Source:        SourceLLM,
	}}

	out := SanitizeObservations(obs)
	assert.Equal(t, "glucose", out[0].CanonicalName)
	assert.Equal(t, "mg/dl", out[0].Unit)
	assert.Equal(t, Text("110"), out[0].Value)
	assert.Equal(t, "glucose\x00", obs[0].CanonicalName)
}

func TestOCRDocument_Sanitize(t *testing.T) {
	doc := OCRDocument{Pages: []OCRPage{{Tokens: []OCRToken{{Text: "HbA\x001c", LineNum: 2}}}}}
	clean := doc.Sanitize()
	assert.Equal(t, "HbA1c", clean.Pages[0].Tokens[0].Text)
	assert.Equal(t, 2, clean.Pages[0].Tokens[0].LineNum)
	assert.Equal(t, "HbA\x001c", doc.Pages[0].Tokens[0].Text)
}
