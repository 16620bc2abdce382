package resolve

import (
	"strings"

	"github.com/alaotach/foxxy-ai/api/schemas"
)

// HeuristicLocate is the DOM-only fallback used when the resolution service
// fails. It matches the description against text, aria-label and placeholder
// of buttons, links, labelled inputs and card-like containers, and returns
// the best candidate's center. No screenshot, no network.
func HeuristicLocate(snap schemas.PageSnapshot, description string, inputOnly bool) (schemas.ResolutionResult, bool) {
	needle := normalize(description)
	if needle == "" {
		return schemas.ResolutionResult{}, false
	}

	var best *schemas.ElementCandidate
	bestScore := 0.0
	for i := range snap.Elements {
		el := &snap.Elements[i]
		if inputOnly && !el.IsInput && !el.ContentEditable {
			continue
		}
		score := matchScore(el, needle)
		if score > bestScore {
			bestScore = score
			best = el
		}
	}

	if best == nil {
		return schemas.ResolutionResult{}, false
	}
	return schemas.ResolutionResult{
		Success:     true,
		X:           best.BoundingBox.CenterX,
		Y:           best.BoundingBox.CenterY,
		Method:      schemas.MethodHeuristic,
		Confidence:  bestScore,
		ElementInfo: best.Tag + " " + firstNonEmpty(best.Text, best.AriaLabel, best.Placeholder),
	}, true
}

func matchScore(el *schemas.ElementCandidate, needle string) float64 {
	score := 0.0
	for _, field := range []struct {
		value  string
		weight float64
	}{
		{el.Text, 1.0},
		{el.AriaLabel, 0.9},
		{el.Placeholder, 0.8},
	} {
		v := normalize(field.value)
		if v == "" {
			continue
		}
		switch {
		case v == needle:
			score = max(score, field.weight)
		case strings.Contains(v, needle):
			score = max(score, field.weight*0.7)
		case strings.Contains(needle, v) && len(v) >= 3:
			score = max(score, field.weight*0.5)
		default:
			score = max(score, field.weight*tokenOverlap(v, needle))
		}
	}
	if score == 0 {
		return 0
	}

	// Inherently clickable elements win ties against generic containers.
	switch el.Tag {
	case "button", "a", "input", "textarea", "select":
		score += 0.1
	}
	if el.Role != "" {
		score += 0.05
	}
	return score
}

// tokenOverlap measures how many words of the needle appear in the value,
// scaled to (0, 0.6]. Sparse overlap is still better than nothing when the
// decision service paraphrases labels.
func tokenOverlap(value, needle string) float64 {
	needleTokens := strings.Fields(needle)
	if len(needleTokens) == 0 {
		return 0
	}
	hits := 0
	for _, tok := range needleTokens {
		if len(tok) < 3 {
			continue
		}
		if strings.Contains(value, tok) {
			hits++
		}
	}
	return 0.6 * float64(hits) / float64(len(needleTokens))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
