package snapshot

import (
	"sort"
	"strings"

	"github.com/alaotach/foxxy-ai/api/schemas"
)

// interactiveTags carry an inherent relevance weight; everything else has to
// earn its place through text or attributes.
var interactiveTags = map[string]float64{
	"button":   5,
	"a":        4,
	"input":    5,
	"textarea": 5,
	"select":   4,
}

// Rank scores, sorts and caps the candidate list. Ordering is stable so
// equally scored elements keep document order, which keeps resolver prompts
// deterministic for an unchanged page.
func Rank(elements []schemas.ElementCandidate, maxCount int) []schemas.ElementCandidate {
	scored := make([]schemas.ElementCandidate, 0, len(elements))
	for _, el := range elements {
		el.Score = Score(el)
		if el.Score > 0 {
			scored = append(scored, el)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if maxCount > 0 && len(scored) > maxCount {
		scored = scored[:maxCount]
	}
	return scored
}

// Score estimates how likely an element is to be an actionable target.
func Score(el schemas.ElementCandidate) float64 {
	score := interactiveTags[el.Tag]

	if el.Role != "" && el.Role != "generic" && el.Role != "presentation" {
		score += 4
	}
	if el.IsInput {
		score += 2
	}
	if el.ContentEditable {
		score += 2
	}

	textLen := len(strings.TrimSpace(el.Text))
	switch {
	case textLen == 0:
	case textLen <= 60:
		score += 3
	default:
		score += 1
	}
	if el.AriaLabel != "" {
		score += 2
	}
	if el.Placeholder != "" {
		score += 2
	}

	// Bare containers matched only by a card/template class pattern have no
	// signal of their own.
	if score == 0 && textLen > 0 {
		score = 1
	}

	// Degenerate boxes are kept out even if attributes look promising.
	if el.BoundingBox.Width <= 1 || el.BoundingBox.Height <= 1 {
		return 0
	}
	return score
}
