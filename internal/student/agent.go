package student

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/mesh"
	"github.com/ashureev/tutormesh/internal/protocol"
)

// ErrUnavailable is returned by Submit when the agent is not running.
var ErrUnavailable = errors.New("student agent unavailable")

const challengePrompt = "Describe your learning challenges in a sentence or two."

// Sink receives student-facing output.
type Sink interface {
	Append(e domain.OutputEntry) domain.OutputEntry
}

type studentState struct {
	status            domain.SessionState
	awaitingChallenge bool
}

// Agent relays student input to the tutor and tutor replies to the sink.
// Per-student state is only touched on the mesh agent's goroutine.
type Agent struct {
	agent    *mesh.Agent
	sink     Sink
	console  *Console
	students map[string]*studentState
	logger   *slog.Logger
}

// New wires the student handlers into a. console may be nil.
func New(a *mesh.Agent, sink Sink, console *Console) *Agent {
	s := &Agent{
		agent:    a,
		sink:     sink,
		console:  console,
		students: make(map[string]*studentState),
		logger:   a.Logger().With("component", "student"),
	}
	a.OnMessage(protocol.KindUserInput, s.handleInput)
	for _, kind := range []protocol.Kind{
		protocol.KindPrompt,
		protocol.KindQuestionDelivered,
		protocol.KindFeedback,
		protocol.KindError,
	} {
		a.OnMessage(kind, s.handleReply)
	}
	return s
}

// Run drains the agent's mailbox until ctx is cancelled.
func (s *Agent) Run(ctx context.Context) error {
	return s.agent.Run(ctx)
}

// Submit queues text from studentID. It never waits for the tutor.
func (s *Agent) Submit(studentID, text, correlationID string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	if !s.agent.Post(studentID, correlationID, protocol.UserInput{Text: text}) {
		return ErrUnavailable
	}
	return nil
}

func (s *Agent) state(studentID string) *studentState {
	st, ok := s.students[studentID]
	if !ok {
		st = &studentState{status: domain.StateIdle}
		s.students[studentID] = st
	}
	return st
}

func (s *Agent) handleInput(ctx context.Context, env mesh.Envelope) {
	text := env.Payload.(protocol.UserInput).Text
	st := s.state(env.StudentID)
	logger := s.logger.With("student_id", env.StudentID, "correlation_id", env.CorrelationID)

	var intent Intent
	if st.awaitingChallenge {
		st.awaitingChallenge = false
		intent.Payload = protocol.DiagnosticRequest{Challenge: strings.TrimSpace(text)}
	} else {
		var err error
		intent, err = Parse(text, st.status)
		if err != nil {
			s.emit(env.StudentID, env.CorrelationID, domain.OutputEntry{Kind: domain.EntryError, Text: "Input cannot be empty."})
			return
		}
	}

	if intent.AwaitChallenge {
		st.awaitingChallenge = true
		s.emit(env.StudentID, env.CorrelationID, domain.OutputEntry{Kind: domain.EntryQuestion, Text: challengePrompt})
		return
	}

	logger.Debug("forwarding to tutor", "kind", intent.Payload.Kind())
	if err := s.agent.Send(ctx, domain.RoleTutor, env.StudentID, env.CorrelationID, intent.Payload); err != nil {
		logger.Error("tutor unreachable", "kind", intent.Payload.Kind(), "error", err)
		s.emit(env.StudentID, env.CorrelationID, domain.OutputEntry{
			Kind: domain.EntryError,
			Text: "The tutor is not reachable right now. Please try again shortly.",
		})
	}
}

func (s *Agent) handleReply(_ context.Context, env mesh.Envelope) {
	st := s.state(env.StudentID)
	var entry domain.OutputEntry

	switch p := env.Payload.(type) {
	case protocol.Prompt:
		st.status = p.Status
		entry = domain.OutputEntry{Kind: domain.EntryQuestion, Text: p.Text}
	case protocol.QuestionDelivered:
		st.status = p.Status
		entry = domain.OutputEntry{Kind: domain.EntryQuestion, Text: formatQuestion(p.Question)}
	case protocol.Feedback:
		st.status = p.Status
		entry = domain.OutputEntry{Kind: domain.EntryFeedback, Text: p.Text, Correct: p.Correct, History: p.History}
	case protocol.Error:
		st.status = p.Status
		entry = domain.OutputEntry{Kind: domain.EntryError, Text: p.Text}
	default:
		return
	}
	s.emit(env.StudentID, env.CorrelationID, entry)
}

func (s *Agent) emit(studentID, correlationID string, e domain.OutputEntry) {
	e.StudentID = studentID
	e.CorrelationID = correlationID
	e = s.sink.Append(e)
	if s.console != nil {
		s.console.Print(e)
	}
}

func formatQuestion(q domain.QuestionRecord) string {
	label := fmt.Sprintf("[%s/%s]", q.Subject, q.Level)
	if q.Topic != "" {
		label = fmt.Sprintf("[%s/%s: %s]", q.Subject, q.Level, q.Topic)
	}
	return label + " " + q.PromptText
}
