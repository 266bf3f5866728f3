package domain

import "strings"

// StripNulls removes NUL bytes from a string. Postgres rejects them in text and JSON columns.
func StripNulls(s string) string {
	if !strings.Contains(s, "\x00") {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// Sanitize returns v with NUL bytes removed from its text payload.
func (v Value) Sanitize() Value {
	if v.kind != KindText {
		return v
	}
	return Text(StripNulls(v.text))
}

// Sanitize returns a copy of the vector with every name and text value stripped of NUL bytes.
func (fv *FeatureVector) Sanitize() *FeatureVector {
	out := NewFeatureVector(fv.Len())
	for _, f := range fv.Features() {
		out.Set(StripNulls(f.Name), f.Value.Sanitize())
	}
	return out
}

// SanitizeObservations strips NUL bytes from every string field of the observations.
func SanitizeObservations(obs []LabObservation) []LabObservation {
	out := make([]LabObservation, len(obs))
	for i, o := range obs {
		o.CanonicalName = StripNulls(o.CanonicalName)
		o.Unit = StripNulls(o.Unit)
		o.Value = o.Value.Sanitize()
		out[i] = o
	}
	return out
}

// Sanitize strips NUL bytes from every token text of the document.
func (d OCRDocument) Sanitize() OCRDocument {
	out := OCRDocument{Pages: make([]OCRPage, len(d.Pages))}
	for i, p := range d.Pages {
		tokens := make([]OCRToken, len(p.Tokens))
		for j, t := range p.Tokens {
			t.Text = StripNulls(t.Text)
			tokens[j] = t
		}
		out.Pages[i] = OCRPage{Tokens: tokens}
	}
	return out
}
