// Package units converts lab values between measurement units using a table of
// multiplicative conversion factors.
package units

import (
	"strings"
)

// Conversion is one entry of the conversion table: value[From] * Factor = value[To].
type Conversion struct {
	Lab    string  `json:"lab"`
	From   string  `json:"from"`
	To     string  `json:"to"`
	Factor float64 `json:"factor"`
}

type conversionKey struct {
	lab, from, to string
}

// DefaultConversions is the built-in conversion table.
var DefaultConversions = []Conversion{
	{Lab: "glucose", From: "mmol/l", To: "mg/dl", Factor: 18.0},
	{Lab: "chol", From: "mmol/l", To: "mg/dl", Factor: 38.67},
	{Lab: "cholesterol", From: "mmol/l", To: "mg/dl", Factor: 38.67},
	{Lab: "hemoglobin", From: "g/l", To: "g/dl", Factor: 0.1},
	{Lab: "hemoglobin", From: "mmol/l", To: "g/dl", Factor: 1.611},
}

// Normalizer converts values to a lab's target unit. It is immutable after construction
// and safe for concurrent use.
type Normalizer struct {
	conversions []Conversion
	byKey       map[conversionKey]float64
	targets     map[string]string
}

// NewNormalizer builds a normalizer from an ordered conversion table and a map of
// canonical lab name to target unit. Table order decides lab-agnostic fallback matches.
func NewNormalizer(conversions []Conversion, targets map[string]string) *Normalizer {
	n := &Normalizer{
		conversions: make([]Conversion, 0, len(conversions)),
		byKey:       make(map[conversionKey]float64, len(conversions)),
		targets:     make(map[string]string, len(targets)),
	}
	for _, c := range conversions {
		c.Lab = strings.ToLower(strings.TrimSpace(c.Lab))
		c.From = Clean(c.From)
		c.To = Clean(c.To)
		key := conversionKey{c.Lab, c.From, c.To}
		if _, dup := n.byKey[key]; dup {
			continue
		}
		n.byKey[key] = c.Factor
		n.conversions = append(n.conversions, c)
	}
	for lab, unit := range targets {
		n.targets[strings.ToLower(lab)] = unit
	}
	return n
}

// Clean lower-cases a unit string and removes spaces, the form units are compared in.
func Clean(unit string) string {
	return strings.ReplaceAll(strings.ToLower(unit), " ", "")
}

// Normalize converts value of lab from unit `from` to unit `to`.
//
// When either unit is empty the value is returned unchanged with whichever unit is set.
// When no conversion is known the value is returned with its original unit, never
// relabelled as the target.
func (n *Normalizer) Normalize(lab string, value float64, from, to string) (float64, string) {
	if from == "" || to == "" {
		if from != "" {
			return value, from
		}
		return value, to
	}

	src, dst := Clean(from), Clean(to)
	if src == dst {
		return value, to
	}

	if factor, ok := n.byKey[conversionKey{strings.ToLower(lab), src, dst}]; ok {
		return value * factor, to
	}

	for _, c := range n.conversions {
		if c.From == src && c.To == dst {
			return value * c.Factor, to
		}
	}

	return value, from
}

// Target returns the configured target unit for a canonical lab, or "" if none.
func (n *Normalizer) Target(lab string) string {
	return n.targets[strings.ToLower(lab)]
}

// Conversions returns a copy of the ordered conversion table.
func (n *Normalizer) Conversions() []Conversion {
	out := make([]Conversion, len(n.conversions))
	copy(out, n.conversions)
	return out
}
