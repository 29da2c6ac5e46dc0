// Package similarity provides the approximate string and vector scorers used by the
// matching cascades.
package similarity

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Ratio is the Levenshtein similarity of a and b on a 0-100 scale.
func Ratio(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 0
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(maxLen))
}

// TokenSortRatio compares a and b after sorting their whitespace tokens, so word
// order does not affect the score.
func TokenSortRatio(a, b string) float64 {
	return Ratio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// BestFuzzy returns the index of the candidate with the highest TokenSortRatio
// against query, provided it reaches floor. Earlier candidates win ties.
func BestFuzzy(query string, candidates []string, floor float64) (int, float64, bool) {
	bestIdx := -1
	bestScore := 0.0
	for i, c := range candidates {
		score := TokenSortRatio(query, c)
		if score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}

	if bestIdx < 0 || bestScore < floor {
		return -1, bestScore, false
	}
	return bestIdx, bestScore, true
}
