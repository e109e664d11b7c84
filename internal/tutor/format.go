package tutor

import (
	"fmt"
	"strings"

	"github.com/ashureev/tutormesh/internal/domain"
)

func numberedList(items []string) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, item)
	}
	return strings.Join(parts, " ")
}

func formatGrade(h domain.HistoryEntry) string {
	var b strings.Builder
	if h.Correct {
		fmt.Fprintf(&b, "Correct! The answer is %s.", h.Question.ExpectedAnswer)
	} else {
		fmt.Fprintf(&b, "Incorrect. You answered %q; the correct answer is %s.", strings.TrimSpace(h.SubmittedAnswer), h.Question.ExpectedAnswer)
	}
	if h.Question.Explanation != "" {
		b.WriteString(" ")
		b.WriteString(h.Question.Explanation)
	}
	return b.String()
}

func formatHistory(history []domain.HistoryEntry) string {
	if len(history) == 0 {
		return "No answers yet. Choose a subject to get your first question."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your history (%d):", len(history))
	for _, h := range history {
		mark := "incorrect"
		if h.Correct {
			mark = "correct"
		}
		fmt.Fprintf(&b, "\n%d. [%s/%s] %s You answered %q (%s).",
			h.Ordinal, h.Question.Subject, h.Question.Level, h.Question.PromptText, strings.TrimSpace(h.SubmittedAnswer), mark)
	}
	return b.String()
}

func formatRecommendation(rec domain.Recommendation) string {
	text := fmt.Sprintf("Recommended next lesson: %s at %s level.", rec.Subject, rec.Level)
	if rec.Rationale != "" {
		text += " " + rec.Rationale
	}
	if rec.Mock {
		text += " (Offline estimate"
		if rec.FallbackReason != "" {
			text += ": " + rec.FallbackReason
		}
		text += ".)"
	}
	return text
}
