// Package labs resolves free-text lab labels to canonical lab names.
//
// Resolution is greedy: synonyms are tried in configuration order and the first
// substring hit wins, so a label that could belong to two labs resolves to whichever
// is listed first. Configuration order is therefore part of the behaviour.
package labs

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultFuzzyThreshold is the minimum TokenSetRatio for a fuzzy match.
const DefaultFuzzyThreshold = 80.0

// Entry lists the synonyms of one canonical lab.
type Entry struct {
	Canonical string   `json:"canonical"`
	Synonyms  []string `json:"synonyms"`
}

// SynonymPair is one (canonical, synonym) pair in configuration order.
type SynonymPair struct {
	Canonical string
	Synonym   string
}

// Canonicalizer maps raw labels to canonical lab names. It is immutable after
// construction and safe for concurrent use.
type Canonicalizer struct {
	pairs      []SynonymPair
	canonicals []string
	threshold  float64
}

// Option configures a Canonicalizer.
type Option func(*Canonicalizer)

// WithFuzzyThreshold overrides DefaultFuzzyThreshold.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Canonicalizer) {
		c.threshold = threshold
	}
}

// NewCanonicalizer builds a canonicalizer from entries in configuration order.
func NewCanonicalizer(entries []Entry, opts ...Option) *Canonicalizer {
	c := &Canonicalizer{threshold: DefaultFuzzyThreshold}
	for _, e := range entries {
		if e.Canonical == "" {
			continue
		}
		c.canonicals = append(c.canonicals, e.Canonical)
		for _, syn := range e.Synonyms {
			syn = strings.ToLower(syn)
			if syn == "" {
				continue
			}
			c.pairs = append(c.pairs, SynonymPair{Canonical: e.Canonical, Synonym: syn})
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize folds a raw label into the form synonyms are compared against: NFKC,
// lower case, control characters removed, whitespace collapsed.
func Normalize(label string) string {
	s := norm.NFKC.String(label)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = whitespace.ReplaceAllString(strings.ToLower(s), " ")
	return strings.TrimSpace(s)
}

// FindCanonical resolves raw to a canonical lab name. It first tries every synonym in
// order, accepting a synonym contained in the label or a label contained in the
// synonym, then falls back to the best fuzzy match against canonical names.
func (c *Canonicalizer) FindCanonical(raw string) (string, bool) {
	label := Normalize(raw)
	if label == "" {
		return "", false
	}

	for _, p := range c.pairs {
		if strings.Contains(label, p.Synonym) || strings.Contains(p.Synonym, label) {
			return p.Canonical, true
		}
	}

	best, bestScore := "", -1.0
	for _, name := range c.canonicals {
		if score := TokenSetRatio(label, strings.ToLower(name)); score > bestScore {
			best, bestScore = name, score
		}
	}
	if best != "" && bestScore >= c.threshold {
		return best, true
	}
	return "", false
}

// Pairs returns the ordered (canonical, synonym) pairs.
func (c *Canonicalizer) Pairs() []SynonymPair {
	out := make([]SynonymPair, len(c.pairs))
	copy(out, c.pairs)
	return out
}

// Canonicals returns the canonical names in configuration order.
func (c *Canonicalizer) Canonicals() []string {
	out := make([]string, len(c.canonicals))
	copy(out, c.canonicals)
	return out
}
