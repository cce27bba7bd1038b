package rowflow

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultSuggestionThreshold is the minimum similarity of a suggested mapping
const DefaultSuggestionThreshold = 0.7

// MappingSuggestion proposes mapping a source column onto a target column.
// Suggestions are advisory and are never applied automatically.
type MappingSuggestion struct {
	Source string
	Target string
	Score  float64
}

// Levenshtein returns the edit distance between a and b, counted in runes
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity returns 1 - Levenshtein(a, b) / max(len(a), len(b)), ignoring case.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// SuggestMappings pairs each source column with its most similar target column when the
// similarity reaches threshold (DefaultSuggestionThreshold when threshold <= 0).
// The result is ordered by descending score.
func SuggestMappings(source, target []string, threshold float64) []MappingSuggestion {
	if threshold <= 0 {
		threshold = DefaultSuggestionThreshold
	}

	var out []MappingSuggestion
	for _, s := range source {
		best := MappingSuggestion{Source: s, Score: -1}
		for _, t := range target {
			if score := Similarity(s, t); score > best.Score {
				best.Target, best.Score = t, score
			}
		}
		if best.Score >= threshold {
			out = append(out, best)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// ExactRules turns accepted suggestions into exact mapping rules
func ExactRules(suggestions []MappingSuggestion) []MappingRule {
	rules := make([]MappingRule, len(suggestions))
	for i, s := range suggestions {
		rules[i] = MappingRule{Source: s.Source, Target: s.Target, Strategy: Exact{}}
	}
	return rules
}
