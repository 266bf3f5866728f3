package domain

// LabPair is a (canonical lab, value, unit) triple produced by the report parsers.
type LabPair struct {
	Lab   string  `json:"lab"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// LabObservation is a canonicalized measurement extracted from one document.
type LabObservation struct {
	CanonicalName string  `json:"canonical_name"`
	Value         Value   `json:"value"`
	Unit          string  `json:"unit"`
	Confidence    float64 `json:"confidence"`
	Source        Source  `json:"source"`
}

// ObservationsFromPairs wraps parser output as observations carrying the source's
// default confidence.
func ObservationsFromPairs(pairs []LabPair, source Source) []LabObservation {
	out := make([]LabObservation, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, LabObservation{
			CanonicalName: p.Lab,
			Value:         Number(p.Value),
			Unit:          p.Unit,
			Confidence:    source.DefaultConfidence(),
			Source:        source,
		})
	}
	return out
}

// LabReading is the coalesced value and unit of one canonical lab, the input shape of
// feature mapping.
type LabReading struct {
	Value Value  `json:"value"`
	Unit  string `json:"unit"`
}

// ParsedLabs maps canonical lab names to their coalesced readings.
type ParsedLabs map[string]LabReading
