package lang

import (
	"github.com/sahilm/fuzzy"
)

// suggest returns the candidate closest to name, if any is close enough to
// be a plausible typo. Fuzzy subsequence matches are preferred in score
// order; every suggestion must also fall within an edit-distance bound.
func suggest(name string, candidates []string) (string, bool) {
	if name == "" || len(candidates) == 0 {
		return "", false
	}

	bound := max(2, len([]rune(name))/3)

	for _, m := range fuzzy.Find(name, candidates) {
		if levenshtein(name, m.Str) <= bound {
			return m.Str, true
		}
	}

	best, dist := "", bound+1

	for _, c := range candidates {
		if d := levenshtein(name, c); d < dist {
			best, dist = c, d
		}
	}

	return best, best != ""
}

// levenshtein returns the edit distance between a and b, counted in runes.
func levenshtein(a, b string) int {
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

			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}

		prev, curr = curr, prev
	}

	return prev[len(rb)]
}
