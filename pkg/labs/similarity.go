package labs

import (
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Ratio returns the normalized edit similarity of a and b on a 0-100 scale.
func Ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	denom := max(len([]rune(a)), len([]rune(b)))
	dist := levenshtein.ComputeDistance(a, b)
	return math.Max(0, 100*(1-float64(dist)/float64(denom)))
}

// TokenSetRatio compares two strings as sets of whitespace-separated tokens, on a 0-100
// scale. Shared tokens count fully, so "fasting glucose" and "glucose" score 100; the
// leftover tokens of each side are compared with Ratio.
func TokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for tok := range ta {
		if tb[tok] {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if !ta[tok] {
			onlyB = append(onlyB, tok)
		}
	}

	if len(common) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	combinedA := joinNonEmpty(sect, strings.Join(onlyA, " "))
	combinedB := joinNonEmpty(sect, strings.Join(onlyB, " "))

	best := Ratio(combinedA, combinedB)
	if sect != "" {
		best = math.Max(best, Ratio(sect, combinedA))
		best = math.Max(best, Ratio(sect, combinedB))
	}
	return best
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
