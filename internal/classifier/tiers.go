package classifier

import (
	"strings"

	"phishguard/internal/models"
)

const (
	// PhishingThreshold is the score a message must exceed to be flagged.
	PhishingThreshold = 0.5

	heuristicPhishingScore = 0.75
	heuristicSafeScore     = 0.25
)

var heuristicTriggers = []string{"urgent", "click"}

// ModelConfidence tiers a model probability: HIGH outside [0.2, 0.8],
// MEDIUM outside [0.4, 0.6], LOW in between.
func ModelConfidence(score float64) models.Confidence {
	switch {
	case score > 0.8 || score < 0.2:
		return models.ConfidenceHigh
	case score > 0.6 || score < 0.4:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// HeuristicConfidence tiers a heuristic score. It never reports LOW.
func HeuristicConfidence(score float64) models.Confidence {
	if score > 0.7 || score < 0.3 {
		return models.ConfidenceHigh
	}
	return models.ConfidenceMedium
}

// HeuristicScore is the keyword fallback used when no model is available.
func HeuristicScore(text string) float64 {
	lower := strings.ToLower(text)
	for _, trigger := range heuristicTriggers {
		if strings.Contains(lower, trigger) {
			return heuristicPhishingScore
		}
	}
	return heuristicSafeScore
}

// IsPhishing applies the decision boundary.
func IsPhishing(score float64) bool {
	return score > PhishingThreshold
}
