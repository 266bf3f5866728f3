package service

import (
	"github.com/labscore-server/internal/domain"
)

// MergeFeatures combines features extracted from a report with values supplied by the
// user. Absent values and empty strings count as missing. When both sides have a value
// the user's wins if preferUser is set, the extracted one otherwise. Keys keep
// extracted order followed by user-only keys. The names still missing after the merge
// are returned in that order.
func MergeFeatures(extracted, user *domain.FeatureVector, preferUser bool) (*domain.FeatureVector, []string) {
	merged := domain.NewFeatureVector(extracted.Len() + user.Len())
	names := append(extracted.Names(), user.Names()...)

	missing := make([]string, 0)
	for _, name := range names {
		if _, done := merged.Get(name); done {
			continue
		}
		ev, _ := extracted.Get(name)
		uv, _ := user.Get(name)

		first, second := ev, uv
		if preferUser {
			first, second = uv, ev
		}
		switch {
		case present(first):
			merged.Set(name, first)
		case present(second):
			merged.Set(name, second)
		default:
			merged.Set(name, domain.Absent())
			missing = append(missing, name)
		}
	}
	return merged, missing
}

func present(v domain.Value) bool {
	if v.IsAbsent() {
		return false
	}
	return !(v.Kind() == domain.KindText && v.String() == "")
}
