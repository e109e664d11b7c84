package domain

import (
	"time"
)

// SessionState is the tutor-side state of one student's session.
type SessionState string

const (
	StateIdle               SessionState = "idle"
	StateAwaitingSubject    SessionState = "awaiting_subject"
	StateAwaitingLevel      SessionState = "awaiting_level"
	StateAwaitingAnswer     SessionState = "awaiting_answer"
	StateAwaitingDiagnostic SessionState = "awaiting_diagnostic"
)

// Session holds the tutoring state for a single student.
// It is owned by the tutor agent and never shared.
type Session struct {
	StudentID       string
	Subject         string
	Level           string
	CurrentQuestion *QuestionRecord
	History         []HistoryEntry
	Status          SessionState
	CreatedAt       time.Time
}

// NewSession returns an idle session for studentID.
func NewSession(studentID string) *Session {
	return &Session{
		StudentID: studentID,
		Status:    StateIdle,
		CreatedAt: time.Now(),
	}
}

// RecordAnswer grades answer against the current question and appends the
// result to the history. It returns the new entry.
func (s *Session) RecordAnswer(answer string) HistoryEntry {
	q := *s.CurrentQuestion
	entry := HistoryEntry{
		Question:        q,
		SubmittedAnswer: answer,
		Correct:         q.Grade(answer),
		Ordinal:         len(s.History) + 1,
		AnsweredAt:      time.Now(),
	}
	s.History = append(s.History, entry)
	return entry
}

// HistorySnapshot returns a copy of the history safe to hand to other agents.
func (s *Session) HistorySnapshot() []HistoryEntry {
	out := make([]HistoryEntry, len(s.History))
	copy(out, s.History)
	return out
}

// Reset clears the selection but keeps the history.
func (s *Session) Reset() {
	s.Subject = ""
	s.Level = ""
	s.CurrentQuestion = nil
	s.Status = StateIdle
}

// Score returns the number of correct answers and the total answered.
func (s *Session) Score() (correct, total int) {
	for _, h := range s.History {
		if h.Correct {
			correct++
		}
	}
	return correct, len(s.History)
}
