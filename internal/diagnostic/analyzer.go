// Package diagnostic turns a free-text description of learning challenges
// into a subject and level recommendation.
package diagnostic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/tutormesh/internal/domain"
)

// Analyzer calls an external model to produce a recommendation.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, challenge string) (domain.Recommendation, error)
}

var errNoJSON = errors.New("model reply contains no JSON object")

const systemPrompt = `You are an educational diagnostician. A student describes their learning challenges.
Recommend one subject and one level for their next lesson.
Subjects: %s.
Levels: %s.
Reply with only a JSON object: {"subject": "...", "level": "...", "analysis_summary": "..."}`

func buildSystemPrompt() string {
	return fmt.Sprintf(systemPrompt, strings.Join(domain.Subjects, ", "), strings.Join(domain.Levels, ", "))
}

func buildUserPrompt(challenge string) string {
	return "Learning challenges:\n" + strings.TrimSpace(challenge)
}

type modelReply struct {
	Subject         string `json:"subject"`
	Level           string `json:"level"`
	AnalysisSummary string `json:"analysis_summary"`
}

// parseReply extracts the JSON object from a model reply, tolerating code
// fences and surrounding prose, and checks it against the catalog.
func parseReply(text string) (domain.Recommendation, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return domain.Recommendation{}, errNoJSON
	}

	var r modelReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return domain.Recommendation{}, fmt.Errorf("decode model reply: %w", err)
	}

	subject, ok := domain.CanonicalSubject(r.Subject)
	if !ok {
		return domain.Recommendation{}, fmt.Errorf("model recommended unknown subject %q", r.Subject)
	}
	level, ok := domain.CanonicalLevel(r.Level)
	if !ok {
		return domain.Recommendation{}, fmt.Errorf("model recommended unknown level %q", r.Level)
	}
	return domain.Recommendation{
		Subject:   subject,
		Level:     level,
		Rationale: strings.TrimSpace(r.AnalysisSummary),
	}, nil
}
