package diagnostic

import (
	"strings"

	"github.com/ashureev/tutormesh/internal/domain"
)

var (
	readingKeywords = []string{
		"letters", "sound blends", "phonetically", "spelling",
		"reading aloud", "sight words", "dyslexia", "decode",
	}
	mathKeywords = []string{
		"numbers", "calculate", "equations", "algebra",
		"addition", "subtraction", "math",
	}
	scienceKeywords = []string{"facts", "science", "concepts", "theory", "lab"}
)

// MockRecommendation derives a recommendation from keywords in challenge.
// Reading difficulties win over math, math over science.
func MockRecommendation(challenge, reason string) domain.Recommendation {
	text := strings.ToLower(challenge)
	rec := domain.Recommendation{
		Subject:        "History",
		Level:          "Beginner",
		Mock:           true,
		FallbackReason: reason,
		Provider:       "mock",
	}

	switch {
	case containsAny(text, readingKeywords):
		rec.Rationale = "The challenges point to difficulty with phonetic decoding and word recognition. " +
			"Beginner History builds reading confidence with short, structured content."
	case containsAny(text, mathKeywords):
		rec.Subject = "Math"
		rec.Rationale = "The challenges center on numbers and calculation. " +
			"Beginner Math reinforces foundational arithmetic and number sense."
	case containsAny(text, scienceKeywords):
		rec.Subject = "Science"
		rec.Level = "Intermediate"
		rec.Rationale = "The challenges involve retaining and applying scientific concepts. " +
			"Intermediate Science with visual, hands-on material helps recall."
	default:
		rec.Rationale = "The challenges are general. Beginner History is a balanced starting point " +
			"for study habits and recall."
	}
	return rec
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
