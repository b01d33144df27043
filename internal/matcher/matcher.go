// Package matcher scores free-text queries against catalog names and SKUs.
//
// The score is a cheap ordered-subsequence heuristic, not an edit distance.
// Substring hits score len(query)/len(candidate); everything else is scored
// by walking the query through the candidate and penalizing length mismatch.
// A score <= 0 means "no match".
package matcher

import (
	"math"
	"slices"
	"strings"

	"github.com/sells-group/tender-cli/internal/model"
)

const (
	foundWeight   = 0.5
	missingWeight = -0.25
	lengthPenalty = 0.02
)

// Score returns how well candidate matches query. Comparison is
// case-insensitive and counted in runes. A blank query scores 0.
func Score(candidate, query string) float64 {
	if strings.TrimSpace(query) == "" {
		return 0
	}
	c := []rune(strings.ToLower(candidate))
	q := []rune(strings.ToLower(query))

	if strings.Contains(string(c), string(q)) {
		return float64(len(q)) / float64(len(c))
	}

	var score float64
	cursor := 0
	for _, r := range q {
		idx := slices.Index(c[cursor:], r)
		if idx < 0 {
			score += missingWeight
			continue
		}
		score += foundWeight
		cursor += idx + 1
	}
	return score - lengthPenalty*math.Abs(float64(len(c)-len(q)))
}

// Match is a catalog item paired with its best score.
type Match struct {
	Item  model.CatalogItem `json:"item"`
	Score float64           `json:"score"`
}

// FindMatches scores every item by the better of its name and SKU, drops
// non-positive scores, and returns up to limit matches best first. Items with
// equal scores keep their catalog order. A limit <= 0 returns every match.
func FindMatches(items []model.CatalogItem, query string, limit int) []Match {
	matches := make([]Match, 0, len(items))
	for _, item := range items {
		s := max(Score(item.Name, query), Score(item.SKU, query))
		if s > 0 {
			matches = append(matches, Match{Item: item, Score: s})
		}
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Best returns the top match for query, if any item scores above zero.
func Best(items []model.CatalogItem, query string) (Match, bool) {
	m := FindMatches(items, query, 1)
	if len(m) == 0 {
		return Match{}, false
	}
	return m[0], true
}
