package domain

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// NameKey returns the lookup key used for case-insensitive uniqueness of
// pocket, investment and card names. The display name is stored as typed.
func NameKey(name string) string {
	return folder.String(strings.Join(strings.Fields(name), " "))
}

// CleanName trims and collapses inner whitespace of a display name.
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ClosestName returns the candidate nearest to name by edit distance on
// the folded keys, or "" when nothing is reasonably close.
func ClosestName(name string, candidates []string) string {
	key := NameKey(name)
	best, bestDist := "", -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(key, NameKey(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 {
		return ""
	}
	limit := len([]rune(key)) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist > limit {
		return ""
	}
	return best
}
