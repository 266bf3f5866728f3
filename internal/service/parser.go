package service

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/pkg/labs"
)

// labValuePattern matches "Label: value unit" and "Label value unit" runs in report text.
var labValuePattern = regexp.MustCompile(`(?i)([a-zA-Z %/().-]{2,50})[:\s]+([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z%/²]+)?`)

// numericToken matches a token that is entirely a signed decimal number.
var numericToken = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)$`)

// unitToken matches a token that can serve as a unit.
var unitToken = regexp.MustCompile(`[a-zA-Z%]`)

// TextParser extracts lab pairs from free report text.
type TextParser struct {
	resolver domain.LabResolver
}

// NewTextParser creates a text parser resolving labels through resolver.
func NewTextParser(resolver domain.LabResolver) *TextParser {
	return &TextParser{resolver: resolver}
}

// Parse returns every resolvable "label value unit" match in document order. Labels
// that do not resolve to a canonical lab are dropped.
func (p *TextParser) Parse(text string) []domain.LabPair {
	var pairs []domain.LabPair
	for _, m := range labValuePattern.FindAllStringSubmatch(text, -1) {
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		lab, ok := p.resolver.FindCanonical(strings.TrimSpace(m[1]))
		if !ok {
			continue
		}
		pairs = append(pairs, domain.LabPair{
			Lab:   lab,
			Value: value,
			Unit:  strings.ToLower(strings.TrimSpace(m[3])),
		})
	}
	return pairs
}

// SynonymTable exposes the ordered (canonical, synonym) pairs of the lab configuration.
type SynonymTable interface {
	Pairs() []labs.SynonymPair
}

// TokenParser extracts lab pairs from OCR tokens by grouping them into lines and
// looking for a number next to a known synonym.
type TokenParser struct {
	pairs []labs.SynonymPair
}

// NewTokenParser creates a token parser over the synonyms of table.
func NewTokenParser(table SynonymTable) *TokenParser {
	var pairs []labs.SynonymPair
	for _, p := range table.Pairs() {
		syn := strings.ToLower(p.Synonym)
		if strings.TrimSpace(syn) == "" {
			continue
		}
		pairs = append(pairs, labs.SynonymPair{Canonical: p.Canonical, Synonym: syn})
	}
	return &TokenParser{pairs: pairs}
}

// Parse scans every line of every page. A line yields one pair per synonym it contains,
// so the same lab can appear more than once.
func (p *TokenParser) Parse(doc domain.OCRDocument) []domain.LabPair {
	var results []domain.LabPair
	for _, page := range doc.Pages {
		for _, row := range groupLines(page.Tokens) {
			results = append(results, p.parseLine(row)...)
		}
	}
	return results
}

// groupLines buckets tokens by line number, in ascending line order, each line sorted
// left to right.
func groupLines(tokens []domain.OCRToken) [][]domain.OCRToken {
	lines := make(map[int][]domain.OCRToken)
	for _, t := range tokens {
		lines[t.LineNum] = append(lines[t.LineNum], t)
	}
	nums := make([]int, 0, len(lines))
	for n := range lines {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	rows := make([][]domain.OCRToken, 0, len(nums))
	for _, n := range nums {
		row := lines[n]
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
		rows = append(rows, row)
	}
	return rows
}

func (p *TokenParser) parseLine(row []domain.OCRToken) []domain.LabPair {
	texts := make([]string, len(row))
	for i, t := range row {
		texts[i] = t.Text
	}
	joined := strings.ToLower(strings.Join(texts, " "))

	var out []domain.LabPair
	for _, pair := range p.pairs {
		if !strings.Contains(joined, pair.Synonym) {
			continue
		}

		firstWord := strings.Fields(pair.Synonym)[0]
		start := 0
		for i, t := range row {
			if strings.Contains(strings.ToLower(t.Text), firstWord) {
				start = i
				break
			}
		}

		idx, value, ok := findNumber(row, start)
		if !ok {
			idx, value, ok = findNumber(row, 0)
		}
		if !ok {
			continue
		}

		unit := ""
		if idx+1 < len(row) && unitToken.MatchString(row[idx+1].Text) {
			unit = row[idx+1].Text
		}
		out = append(out, domain.LabPair{Lab: pair.Canonical, Value: value, Unit: strings.ToLower(unit)})
	}
	return out
}

// findNumber returns the first numeric token at or after start.
func findNumber(row []domain.OCRToken, start int) (int, float64, bool) {
	for i := start; i < len(row); i++ {
		txt := strings.TrimSpace(row[i].Text)
		if !numericToken.MatchString(txt) {
			continue
		}
		if v, err := strconv.ParseFloat(txt, 64); err == nil {
			return i, v, true
		}
	}
	return 0, 0, false
}

// CoalescePairs keeps the first pair seen for each canonical lab.
func CoalescePairs(pairs []domain.LabPair) domain.ParsedLabs {
	out := make(domain.ParsedLabs, len(pairs))
	for _, p := range pairs {
		if _, ok := out[p.Lab]; ok {
			continue
		}
		out[p.Lab] = domain.LabReading{Value: domain.Number(p.Value), Unit: p.Unit}
	}
	return out
}

// CoalesceObservations merges observations from several extractors into one per
// canonical lab, preserving first-seen order. The first observation of a lab is kept
// unless a later one from a different source has strictly higher confidence.
func CoalesceObservations(observations ...[]domain.LabObservation) []domain.LabObservation {
	var out []domain.LabObservation
	index := make(map[string]int)
	for _, batch := range observations {
		for _, obs := range batch {
			key := strings.ToLower(obs.CanonicalName)
			if key == "" {
				continue
			}
			i, seen := index[key]
			if !seen {
				index[key] = len(out)
				out = append(out, obs)
				continue
			}
			if obs.Source != out[i].Source && obs.Confidence > out[i].Confidence {
				out[i] = obs
			}
		}
	}
	return out
}

// ObservationsToLabs converts coalesced observations to the mapper's input shape.
func ObservationsToLabs(observations []domain.LabObservation) domain.ParsedLabs {
	out := make(domain.ParsedLabs, len(observations))
	for _, obs := range observations {
		key := strings.ToLower(obs.CanonicalName)
		if _, ok := out[key]; ok {
			continue
		}
		out[key] = domain.LabReading{Value: obs.Value, Unit: obs.Unit}
	}
	return out
}
