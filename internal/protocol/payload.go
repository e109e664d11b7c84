// Package protocol defines the closed set of payloads exchanged between agents.
package protocol

import "github.com/ashureev/tutormesh/internal/domain"

// Kind names a payload variant on the wire.
type Kind string

const (
	KindSubjectChoice     Kind = "SUBJECT_CHOICE"
	KindLevelChoice       Kind = "LEVEL_CHOICE"
	KindLessonRequest     Kind = "LESSON_REQUEST"
	KindAnswerSubmission  Kind = "ANSWER_SUBMISSION"
	KindHistoryRequest    Kind = "HISTORY_REQUEST"
	KindDiagnosticRequest Kind = "DIAGNOSTIC_REQUEST"
	KindKnowledgeQuery    Kind = "KNOWLEDGE_QUERY"
	KindKnowledgeResult   Kind = "KNOWLEDGE_RESULT"
	KindDiagnosticResult  Kind = "DIAGNOSTIC_RESULT"
	KindPrompt            Kind = "PROMPT"
	KindQuestionDelivered Kind = "QUESTION_DELIVERED"
	KindFeedback          Kind = "FEEDBACK"
	KindError             Kind = "ERROR"
	KindTimerFired        Kind = "TIMER_FIRED"
	KindUserInput         Kind = "USER_INPUT"
)

// Payload is implemented only by the types in this package.
type Payload interface {
	Kind() Kind
	sealed()
}

// SubjectChoice selects a subject from the catalog.
type SubjectChoice struct {
	Subject string `json:"subject"`
}

// LevelChoice selects a level for the chosen subject.
type LevelChoice struct {
	Level string `json:"level"`
}

// LessonRequest selects subject and level in one step ("Math:Beginner").
type LessonRequest struct {
	Subject string `json:"subject"`
	Level   string `json:"level"`
}

// AnswerSubmission answers the question currently issued to the student.
type AnswerSubmission struct {
	Answer string `json:"answer"`
}

// HistoryRequest asks for the ordered answer history.
type HistoryRequest struct{}

// DiagnosticRequest carries a free-text description of learning challenges.
type DiagnosticRequest struct {
	Challenge string `json:"challenge"`
}

// KnowledgeQuery asks the knowledge agent for a question.
type KnowledgeQuery struct {
	Subject string `json:"subject"`
	Level   string `json:"level"`
}

// KnowledgeResult answers a KnowledgeQuery. Question is nil when NotFound.
type KnowledgeResult struct {
	Question *domain.QuestionRecord `json:"question,omitempty"`
	NotFound bool                   `json:"not_found"`
	Reason   string                 `json:"reason,omitempty"`
}

// DiagnosticResult answers a DiagnosticRequest.
type DiagnosticResult struct {
	Recommendation domain.Recommendation `json:"recommendation"`
}

// Prompt asks the student for the next choice without concluding anything.
type Prompt struct {
	Text   string              `json:"text"`
	Status domain.SessionState `json:"status"`
}

// QuestionDelivered issues a question to the student.
type QuestionDelivered struct {
	Question domain.QuestionRecord `json:"question"`
	Status   domain.SessionState   `json:"status"`
}

// Feedback concludes a request: a graded answer, a history listing or a
// recommendation.
type Feedback struct {
	Text           string                 `json:"text"`
	Correct        *bool                  `json:"correct,omitempty"`
	History        []domain.HistoryEntry  `json:"history,omitempty"`
	Recommendation *domain.Recommendation `json:"recommendation,omitempty"`
	Status         domain.SessionState    `json:"status"`
}

// Error reports a user-visible failure.
type Error struct {
	Code   ErrorCode           `json:"code"`
	Text   string              `json:"text"`
	Status domain.SessionState `json:"status"`
}

// TimerFired is posted by an agent to itself when a deadline passes.
type TimerFired struct {
	Timer string `json:"timer"`
	Ref   string `json:"ref"`
}

// UserInput is raw text typed by a student, handed to the student agent by
// the UI bridge or the console.
type UserInput struct {
	Text string `json:"text"`
}

// ErrorCode classifies Error payloads.
type ErrorCode string

const (
	CodeUnknownSubject  ErrorCode = "UNKNOWN_SUBJECT"
	CodeUnknownLevel    ErrorCode = "UNKNOWN_LEVEL"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeLookupTimeout   ErrorCode = "LOOKUP_TIMEOUT"
	CodeDiagnosticBusy  ErrorCode = "DIAGNOSTIC_BUSY"
	CodeOutOfSequence   ErrorCode = "OUT_OF_SEQUENCE"
	CodeUnroutable      ErrorCode = "UNROUTABLE"
	CodeEmptyInput      ErrorCode = "EMPTY_INPUT"
	CodeUnsupportedKind ErrorCode = "UNSUPPORTED"
)

func (SubjectChoice) Kind() Kind     { return KindSubjectChoice }
func (LevelChoice) Kind() Kind       { return KindLevelChoice }
func (LessonRequest) Kind() Kind     { return KindLessonRequest }
func (AnswerSubmission) Kind() Kind  { return KindAnswerSubmission }
func (HistoryRequest) Kind() Kind    { return KindHistoryRequest }
func (DiagnosticRequest) Kind() Kind { return KindDiagnosticRequest }
func (KnowledgeQuery) Kind() Kind    { return KindKnowledgeQuery }
func (KnowledgeResult) Kind() Kind   { return KindKnowledgeResult }
func (DiagnosticResult) Kind() Kind  { return KindDiagnosticResult }
func (Prompt) Kind() Kind            { return KindPrompt }
func (QuestionDelivered) Kind() Kind { return KindQuestionDelivered }
func (Feedback) Kind() Kind          { return KindFeedback }
func (Error) Kind() Kind             { return KindError }
func (TimerFired) Kind() Kind        { return KindTimerFired }
func (UserInput) Kind() Kind         { return KindUserInput }

func (SubjectChoice) sealed()     {}
func (LevelChoice) sealed()       {}
func (LessonRequest) sealed()     {}
func (AnswerSubmission) sealed()  {}
func (HistoryRequest) sealed()    {}
func (DiagnosticRequest) sealed() {}
func (KnowledgeQuery) sealed()    {}
func (KnowledgeResult) sealed()   {}
func (DiagnosticResult) sealed()  {}
func (Prompt) sealed()            {}
func (QuestionDelivered) sealed() {}
func (Feedback) sealed()          {}
func (Error) sealed()             {}
func (TimerFired) sealed()        {}
func (UserInput) sealed()         {}
