// Package student implements the student agent: it turns raw input into
// tutor requests and writes the tutor's replies to the UI buffer.
package student

import (
	"errors"
	"strings"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/protocol"
)

// ErrEmptyInput is returned for blank input.
var ErrEmptyInput = errors.New("input cannot be empty")

// Intent is the result of parsing one line of input.
type Intent struct {
	// Payload is sent to the tutor when non-nil.
	Payload protocol.Payload
	// AwaitChallenge asks the student to describe their challenges next.
	AwaitChallenge bool
}

// Parse interprets text given the session status the tutor last reported.
func Parse(text string, status domain.SessionState) (Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Intent{}, ErrEmptyInput
	}
	lower := strings.ToLower(text)

	if lower == "history" {
		return Intent{Payload: protocol.HistoryRequest{}}, nil
	}
	if challenge, ok := cutAssess(text); ok {
		if challenge == "" {
			return Intent{AwaitChallenge: true}, nil
		}
		return Intent{Payload: protocol.DiagnosticRequest{Challenge: challenge}}, nil
	}

	// While a question is open everything else is an answer, including
	// single characters that are menu shortcuts elsewhere.
	if status == domain.StateAwaitingAnswer {
		return Intent{Payload: protocol.AnswerSubmission{Answer: text}}, nil
	}

	switch lower {
	case "0":
		return Intent{Payload: protocol.HistoryRequest{}}, nil
	case "a", "assess":
		return Intent{AwaitChallenge: true}, nil
	}

	if subject, level, ok := strings.Cut(text, ":"); ok {
		return Intent{Payload: protocol.LessonRequest{
			Subject: strings.TrimSpace(subject),
			Level:   strings.TrimSpace(level),
		}}, nil
	}

	if status == domain.StateAwaitingSubject || status == domain.StateAwaitingLevel {
		if level, ok := domain.CanonicalLevel(text); ok {
			return Intent{Payload: protocol.LevelChoice{Level: level}}, nil
		}
		if level, ok := domain.LevelByNumber(text); ok {
			return Intent{Payload: protocol.LevelChoice{Level: level}}, nil
		}
	}

	if subject, ok := domain.SubjectByNumber(text); ok {
		return Intent{Payload: protocol.SubjectChoice{Subject: subject}}, nil
	}
	return Intent{Payload: protocol.SubjectChoice{Subject: text}}, nil
}

// cutAssess strips an "assess:" or "a:" prefix.
func cutAssess(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, prefix := range []string{"assess:", "a:"} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(text[len(prefix):]), true
		}
	}
	return "", false
}
