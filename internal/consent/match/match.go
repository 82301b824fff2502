// Package match implements bounded fuzzy equality between a single
// recognized token and a single expected script word.
//
// The tolerance is length-adaptive and is the contract of this package:
// tokens of length ≤ 3 must match exactly (so "in" never matches "is"),
// tokens of length ≥ 5 tolerate up to 2 edits, and everything else
// tolerates 1. Distances come from the Levenshtein implementation in
// github.com/antzucaro/matchr.
package match

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// maxTolerance returns the edit-distance budget for an expected word of the
// given rune length.
func maxTolerance(length int) int {
	switch {
	case length <= 3:
		return 0
	case length >= 5:
		return 2
	default:
		return 1
	}
}

// CloseMatch reports whether actual is an acceptable recognition of
// expected. Comparison is case-insensitive; both arguments are expected to
// be single tokens.
func CloseMatch(expected, actual string) bool {
	expected = strings.ToLower(expected)
	actual = strings.ToLower(actual)
	if expected == actual {
		return true
	}

	length := utf8.RuneCountInString(expected)
	tolerance := maxTolerance(length)
	if tolerance == 0 {
		return false
	}

	// A length gap larger than the budget cannot close within it.
	diff := utf8.RuneCountInString(actual) - length
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return false
	}

	return matchr.Levenshtein(expected, actual) <= tolerance
}

// Exact reports case-insensitive equality. Used by the progress controller
// when the require-exact gate is set after a permissive skip.
func Exact(expected, actual string) bool {
	return strings.EqualFold(expected, actual)
}
