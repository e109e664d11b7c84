package domain

import "time"

// EntryKind classifies a UI buffer entry.
type EntryKind string

const (
	EntryAck      EntryKind = "ack"
	EntryQuestion EntryKind = "question"
	EntryFeedback EntryKind = "feedback"
	EntryError    EntryKind = "error"
)

// Terminal reports whether the kind concludes the request it answers.
func (k EntryKind) Terminal() bool {
	return k == EntryFeedback || k == EntryError
}

// OutputEntry is one line of student-facing output.
type OutputEntry struct {
	StudentID     string         `json:"student_id"`
	Kind          EntryKind      `json:"kind"`
	Text          string         `json:"text"`
	Ordinal       int64          `json:"ordinal"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Correct       *bool          `json:"correct,omitempty"`
	History       []HistoryEntry `json:"history,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Recommendation is the result of a diagnostic.
type Recommendation struct {
	Subject        string `json:"subject"`
	Level          string `json:"level"`
	Rationale      string `json:"rationale"`
	Mock           bool   `json:"mock"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	Provider       string `json:"provider,omitempty"`
}
