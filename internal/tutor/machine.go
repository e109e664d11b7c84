package tutor

import (
	"fmt"
	"strings"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/protocol"
)

// Effects are the outputs of one transition.
type Effects struct {
	// Reply goes back to the student under the request's correlation id.
	Reply protocol.Payload
	// Lookup, when set, must be sent to the knowledge agent.
	Lookup *protocol.KnowledgeQuery
	// Diagnose, when set, must be sent to the assessment agent.
	Diagnose *protocol.DiagnosticRequest
}

// Step applies a student message to s. It performs no I/O.
func Step(s *domain.Session, p protocol.Payload) Effects {
	switch msg := p.(type) {
	case protocol.SubjectChoice:
		return selectSubject(s, msg.Subject)
	case protocol.LevelChoice:
		return selectLevel(s, msg.Level)
	case protocol.LessonRequest:
		return requestLesson(s, msg.Subject, msg.Level)
	case protocol.AnswerSubmission:
		return submitAnswer(s, msg.Answer)
	case protocol.HistoryRequest:
		return showHistory(s)
	case protocol.DiagnosticRequest:
		return startDiagnostic(s, msg.Challenge)
	}
	return errorReply(s, protocol.CodeUnsupportedKind, fmt.Sprintf("Unsupported request %q.", p.Kind()))
}

// StepLookup applies the knowledge agent's answer to a session awaiting it.
func StepLookup(s *domain.Session, res protocol.KnowledgeResult) Effects {
	if res.NotFound || res.Question == nil {
		s.Status = domain.StateAwaitingLevel
		text := fmt.Sprintf("No question is available for %s at %s level. Choose another level or subject.", s.Subject, s.Level)
		if res.Reason != "" {
			text = fmt.Sprintf("Could not fetch a question for %s at %s level (%s). Please try again.", s.Subject, s.Level, res.Reason)
		}
		return errorReply(s, protocol.CodeNotFound, text)
	}
	q := *res.Question
	s.CurrentQuestion = &q
	s.Status = domain.StateAwaitingAnswer
	return Effects{Reply: protocol.QuestionDelivered{Question: q, Status: s.Status}}
}

// StepLookupTimeout handles a lookup that was never answered.
func StepLookupTimeout(s *domain.Session) Effects {
	s.Status = domain.StateAwaitingLevel
	return errorReply(s, protocol.CodeLookupTimeout,
		"The knowledge service did not answer in time. Choose the level again to retry.")
}

// StepLookupFailed handles a lookup that could not be sent.
func StepLookupFailed(s *domain.Session) Effects {
	s.Status = domain.StateAwaitingLevel
	return errorReply(s, protocol.CodeUnroutable,
		"The knowledge service is unreachable right now. Choose the level again to retry.")
}

// StepRecommendation concludes a diagnostic, real or fallback.
func StepRecommendation(s *domain.Session, rec domain.Recommendation) Effects {
	s.Reset()
	r := rec
	return Effects{Reply: protocol.Feedback{
		Text:           formatRecommendation(rec),
		Recommendation: &r,
		Status:         s.Status,
	}}
}

func selectSubject(s *domain.Session, raw string) Effects {
	subject, ok := domain.CanonicalSubject(raw)
	if !ok {
		return errorReply(s, protocol.CodeUnknownSubject, fmt.Sprintf(
			"Unknown subject %q. Choose one of: %s.", strings.TrimSpace(raw), strings.Join(domain.Subjects, ", ")))
	}
	s.Subject = subject
	s.Level = ""
	s.CurrentQuestion = nil
	s.Status = domain.StateAwaitingSubject
	return Effects{Reply: protocol.Prompt{
		Text:   fmt.Sprintf("%s selected. Choose a level: %s.", subject, numberedList(domain.Levels)),
		Status: s.Status,
	}}
}

func selectLevel(s *domain.Session, raw string) Effects {
	switch s.Status {
	case domain.StateAwaitingSubject, domain.StateAwaitingLevel:
	case domain.StateAwaitingAnswer:
		return errorReply(s, protocol.CodeOutOfSequence, "Answer the current question first, or choose a new subject.")
	default:
		return errorReply(s, protocol.CodeOutOfSequence, "Choose a subject before choosing a level.")
	}
	level, ok := domain.CanonicalLevel(raw)
	if !ok {
		return errorReply(s, protocol.CodeUnknownLevel, fmt.Sprintf(
			"Unknown level %q. Choose one of: %s.", strings.TrimSpace(raw), strings.Join(domain.Levels, ", ")))
	}
	s.Level = level
	s.Status = domain.StateAwaitingLevel
	return Effects{Lookup: &protocol.KnowledgeQuery{Subject: s.Subject, Level: level}}
}

func requestLesson(s *domain.Session, rawSubject, rawLevel string) Effects {
	subject, ok := domain.CanonicalSubject(rawSubject)
	if !ok {
		return errorReply(s, protocol.CodeUnknownSubject, fmt.Sprintf(
			"Unknown subject %q. Choose one of: %s.", strings.TrimSpace(rawSubject), strings.Join(domain.Subjects, ", ")))
	}
	level, ok := domain.CanonicalLevel(rawLevel)
	if !ok {
		return errorReply(s, protocol.CodeUnknownLevel, fmt.Sprintf(
			"Unknown level %q. Choose one of: %s.", strings.TrimSpace(rawLevel), strings.Join(domain.Levels, ", ")))
	}
	s.Subject = subject
	s.Level = level
	s.CurrentQuestion = nil
	s.Status = domain.StateAwaitingLevel
	return Effects{Lookup: &protocol.KnowledgeQuery{Subject: subject, Level: level}}
}

func submitAnswer(s *domain.Session, answer string) Effects {
	if s.Status != domain.StateAwaitingAnswer || s.CurrentQuestion == nil {
		return errorReply(s, protocol.CodeOutOfSequence, "There is no question to answer. Choose a subject to get one.")
	}
	entry := s.RecordAnswer(answer)
	correct, total := s.Score()
	s.Reset()

	text := formatGrade(entry) + fmt.Sprintf(" Score: %d/%d.", correct, total)
	ok := entry.Correct
	return Effects{Reply: protocol.Feedback{Text: text, Correct: &ok, Status: s.Status}}
}

func showHistory(s *domain.Session) Effects {
	return Effects{Reply: protocol.Feedback{
		Text:    formatHistory(s.History),
		History: s.HistorySnapshot(),
		Status:  s.Status,
	}}
}

func startDiagnostic(s *domain.Session, challenge string) Effects {
	challenge = strings.TrimSpace(challenge)
	if challenge == "" {
		return errorReply(s, protocol.CodeEmptyInput, "Describe your learning challenges so they can be assessed.")
	}
	s.Status = domain.StateAwaitingDiagnostic
	return Effects{Diagnose: &protocol.DiagnosticRequest{Challenge: challenge}}
}

func errorReply(s *domain.Session, code protocol.ErrorCode, text string) Effects {
	return Effects{Reply: protocol.Error{Code: code, Text: text, Status: s.Status}}
}
