package student

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/tutormesh/internal/bridge"
	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/knowledge"
	"github.com/ashureev/tutormesh/internal/mesh"
	"github.com/ashureev/tutormesh/internal/protocol"
	"github.com/ashureev/tutormesh/internal/registry"
	"github.com/ashureev/tutormesh/internal/tutor"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		status domain.SessionState
		want   Intent
	}{
		{"subject name", "Math", domain.StateIdle, Intent{Payload: protocol.SubjectChoice{Subject: "Math"}}},
		{"subject number", "5", domain.StateIdle, Intent{Payload: protocol.SubjectChoice{Subject: "Geography"}}},
		{"unknown subject passes through", "Latin", domain.StateIdle, Intent{Payload: protocol.SubjectChoice{Subject: "Latin"}}},
		{"lesson request", " Math : Beginner ", domain.StateIdle, Intent{Payload: protocol.LessonRequest{Subject: "Math", Level: "Beginner"}}},
		{"level name", "beginner", domain.StateAwaitingSubject, Intent{Payload: protocol.LevelChoice{Level: "Beginner"}}},
		{"level number", "3", domain.StateAwaitingLevel, Intent{Payload: protocol.LevelChoice{Level: "Advanced"}}},
		{"subject while choosing level", "Science", domain.StateAwaitingSubject, Intent{Payload: protocol.SubjectChoice{Subject: "Science"}}},
		{"history keyword", "HISTORY", domain.StateAwaitingAnswer, Intent{Payload: protocol.HistoryRequest{}}},
		{"history shortcut", "0", domain.StateIdle, Intent{Payload: protocol.HistoryRequest{}}},
		{"answer", " Paris ", domain.StateAwaitingAnswer, Intent{Payload: protocol.AnswerSubmission{Answer: "Paris"}}},
		{"shortcut is an answer while answering", "a", domain.StateAwaitingAnswer, Intent{Payload: protocol.AnswerSubmission{Answer: "a"}}},
		{"assess inline", "assess: numbers are hard", domain.StateIdle, Intent{Payload: protocol.DiagnosticRequest{Challenge: "numbers are hard"}}},
		{"assess shortcut", "A", domain.StateIdle, Intent{AwaitChallenge: true}},
		{"assess empty prefix", "a:", domain.StateAwaitingAnswer, Intent{AwaitChallenge: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.text, tc.status)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Parse("   ", domain.StateIdle)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

type fixture struct {
	ctx     context.Context
	buf     *bridge.Buffer
	student *Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := registry.NewMemoryRegistry()
	router := mesh.NewRouter(nil)

	ta, err := mesh.NewAgent(domain.RoleTutor, reg, router, nil)
	require.NoError(t, err)
	ka, err := mesh.NewAgent(domain.RoleKnowledge, reg, router, nil)
	require.NoError(t, err)
	sa, err := mesh.NewAgent(domain.RoleStudent, reg, router, nil)
	require.NoError(t, err)

	src := knowledge.NewMemorySource(domain.QuestionRecord{
		Subject: "Math", Level: "Beginner", Topic: "Addition", PromptText: "What is 7 + 5?", ExpectedAnswer: "12",
	})
	buf := bridge.NewBuffer(50, time.Minute)
	s := New(sa, buf, nil)

	go func() { _ = tutor.New(ta, tutor.Config{}).Run(ctx) }()
	go func() { _ = knowledge.NewAgent(ka, src, 0).Run(ctx) }()
	go func() { _ = s.Run(ctx) }()
	return &fixture{ctx: ctx, buf: buf, student: s}
}

// say submits text and waits for the reply that concludes it.
func (f *fixture) say(t *testing.T, studentID, text, corr string) domain.OutputEntry {
	t.Helper()
	since := f.buf.Latest()
	require.NoError(t, f.student.Submit(studentID, text, corr))
	entries, ok := f.buf.Await(f.ctx, studentID, corr, since, 3*time.Second, 20*time.Millisecond)
	require.True(t, ok, "no conclusive reply to %q: %+v", text, entries)
	return entries[len(entries)-1]
}

func TestStudentLessonRoundTrip(t *testing.T) {
	f := newFixture(t)

	e := f.say(t, "s1", "1", "c1")
	assert.Equal(t, domain.EntryQuestion, e.Kind)
	assert.Contains(t, e.Text, "Math selected")

	e = f.say(t, "s1", "1", "c2")
	assert.Equal(t, domain.EntryQuestion, e.Kind)
	assert.Equal(t, "c2", e.CorrelationID)
	assert.Equal(t, "[Math/Beginner: Addition] What is 7 + 5?", e.Text)

	e = f.say(t, "s1", " 12 ", "c3")
	assert.Equal(t, domain.EntryFeedback, e.Kind)
	require.NotNil(t, e.Correct)
	assert.True(t, *e.Correct)

	e = f.say(t, "s1", "history", "c4")
	assert.Equal(t, domain.EntryFeedback, e.Kind)
	require.Len(t, e.History, 1)
	assert.Equal(t, "What is 7 + 5?", e.History[0].Question.PromptText)
}

func TestStudentUnknownSubject(t *testing.T) {
	f := newFixture(t)
	e := f.say(t, "s1", "Latin", "c1")
	assert.Equal(t, domain.EntryError, e.Kind)
	assert.Contains(t, e.Text, "Latin")

	// Still idle: a number selects a subject, not a level.
	e = f.say(t, "s1", "1", "c2")
	assert.Contains(t, e.Text, "Math selected")
}

func TestStudentChallengeMode(t *testing.T) {
	f := newFixture(t)

	e := f.say(t, "s1", "a", "c1")
	assert.Equal(t, domain.EntryQuestion, e.Kind)
	assert.Equal(t, challengePrompt, e.Text)

	e = f.say(t, "s1", "I struggle with equations", "c2")
	assert.Equal(t, domain.EntryFeedback, e.Kind)
	assert.Contains(t, e.Text, "Math at Beginner level")
}

func TestSubmitRejectsEmptyAndStoppedAgent(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	router := mesh.NewRouter(nil)
	sa, err := mesh.NewAgent(domain.RoleStudent, reg, router, nil)
	require.NoError(t, err)
	s := New(sa, bridge.NewBuffer(10, time.Minute), nil)

	assert.ErrorIs(t, s.Submit("s1", "  ", "c1"), ErrEmptyInput)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = s.Run(ctx); close(done) }()
	cancel()
	<-done
	assert.ErrorIs(t, s.Submit("s1", "Math", "c2"), ErrUnavailable)
}

func TestTutorUnreachableBecomesErrorEntry(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	router := mesh.NewRouter(nil)
	sa, err := mesh.NewAgent(domain.RoleStudent, reg, router, nil)
	require.NoError(t, err)
	buf := bridge.NewBuffer(10, time.Minute)
	s := New(sa, buf, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.NoError(t, s.Submit("s1", "Math", "c1"))
	entries, ok := buf.Await(ctx, "s1", "c1", 0, 2*time.Second, 10*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, domain.EntryError, entries[0].Kind)
	assert.Contains(t, entries[0].Text, "not reachable")
}

func TestConsolePrintsPlainTextWhenNotTerminal(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	wrong := false
	c.Print(domain.OutputEntry{Kind: domain.EntryError, Text: "boom"})
	c.Print(domain.OutputEntry{Kind: domain.EntryFeedback, Text: "Incorrect.", Correct: &wrong})
	assert.Equal(t, "Error: boom\nIncorrect.\n", out.String())
}

func TestConsoleReadLoopSubmitsLines(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	var got []string
	err := c.ReadLoop(context.Background(), strings.NewReader("Math\n\n 1 \n"), "console", func(studentID, text, corr string) error {
		assert.Equal(t, "console", studentID)
		assert.NotEmpty(t, corr)
		got = append(got, text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Math", "1"}, got)
	assert.Contains(t, out.String(), "Choose a subject:")
}
