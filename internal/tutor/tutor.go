// Package tutor implements the tutor agent: per-student sessions driven by
// the transitions in machine.go, with knowledge lookups and diagnostics
// dispatched to peer agents.
package tutor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/tutormesh/internal/diagnostic"
	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/mesh"
	"github.com/ashureev/tutormesh/internal/protocol"
)

const (
	timerLookup     = "lookup"
	timerDiagnostic = "diagnostic"
)

// Config sets the tutor's wait limits.
type Config struct {
	KnowledgeTimeout  time.Duration
	DiagnosticTimeout time.Duration
}

// pending is an outbound request a session is blocked on.
type pending struct {
	timer     string
	ref       string
	origin    mesh.Envelope
	challenge string
	deadline  *time.Timer
}

type sessionRuntime struct {
	session *domain.Session
	pending *pending
	backlog []mesh.Envelope
}

// Tutor owns every student session. All state is touched only from the
// mesh agent's goroutine.
type Tutor struct {
	agent    *mesh.Agent
	cfg      Config
	sessions map[string]*sessionRuntime
	logger   *slog.Logger
}

// New wires the tutor's handlers into a.
func New(a *mesh.Agent, cfg Config) *Tutor {
	if cfg.KnowledgeTimeout <= 0 {
		cfg.KnowledgeTimeout = 5 * time.Second
	}
	if cfg.DiagnosticTimeout <= 0 {
		cfg.DiagnosticTimeout = 8 * time.Second
	}
	t := &Tutor{
		agent:    a,
		cfg:      cfg,
		sessions: make(map[string]*sessionRuntime),
		logger:   a.Logger().With("component", "tutor"),
	}
	for _, kind := range []protocol.Kind{
		protocol.KindSubjectChoice,
		protocol.KindLevelChoice,
		protocol.KindLessonRequest,
		protocol.KindAnswerSubmission,
		protocol.KindHistoryRequest,
		protocol.KindDiagnosticRequest,
	} {
		a.OnMessage(kind, t.handleStudent)
	}
	a.OnMessage(protocol.KindKnowledgeResult, t.handleKnowledgeResult)
	a.OnMessage(protocol.KindDiagnosticResult, t.handleDiagnosticResult)
	a.OnMessage(protocol.KindTimerFired, t.handleTimer)
	a.OnUnhandled(t.handleUnsupported)
	return t
}

// Run drains the tutor's mailbox until ctx is cancelled.
func (t *Tutor) Run(ctx context.Context) error {
	return t.agent.Run(ctx)
}

func (t *Tutor) runtime(studentID string) *sessionRuntime {
	rt, ok := t.sessions[studentID]
	if !ok {
		rt = &sessionRuntime{session: domain.NewSession(studentID)}
		t.sessions[studentID] = rt
		t.logger.Info("session created", "student_id", studentID)
	}
	return rt
}

func (t *Tutor) handleStudent(ctx context.Context, env mesh.Envelope) {
	if env.StudentID == "" {
		t.logger.Warn("student message without student id dropped", "kind", env.Kind(), "sender", env.Sender.Address)
		return
	}
	t.process(ctx, t.runtime(env.StudentID), env)
}

// process applies env unless the session is blocked, in which case it is
// queued behind the outstanding request.
func (t *Tutor) process(ctx context.Context, rt *sessionRuntime, env mesh.Envelope) {
	if rt.pending != nil {
		if rt.pending.timer == timerDiagnostic && env.Kind() == protocol.KindDiagnosticRequest {
			t.reply(ctx, env, protocol.Error{
				Code:   protocol.CodeDiagnosticBusy,
				Text:   "An assessment is already in progress. Please wait for its result.",
				Status: rt.session.Status,
			})
			return
		}
		rt.backlog = append(rt.backlog, env)
		t.logger.Debug("message queued behind pending request",
			"student_id", env.StudentID, "kind", env.Kind(), "pending", rt.pending.timer, "backlog", len(rt.backlog))
		return
	}

	before := rt.session.Status
	fx := Step(rt.session, env.Payload)
	t.logTransition(env, before, rt.session.Status)
	t.apply(ctx, rt, env, fx)
}

func (t *Tutor) apply(ctx context.Context, rt *sessionRuntime, origin mesh.Envelope, fx Effects) {
	if fx.Reply != nil {
		t.reply(ctx, origin, fx.Reply)
	}
	switch {
	case fx.Lookup != nil:
		t.startLookup(ctx, rt, origin, *fx.Lookup)
	case fx.Diagnose != nil:
		t.startDiagnostic(ctx, rt, origin, *fx.Diagnose)
	}
}

func (t *Tutor) startLookup(ctx context.Context, rt *sessionRuntime, origin mesh.Envelope, q protocol.KnowledgeQuery) {
	ref := uuid.NewString()
	if err := t.agent.Send(ctx, domain.RoleKnowledge, origin.StudentID, ref, q); err != nil {
		t.logger.Error("knowledge lookup not sent", "student_id", origin.StudentID, "error", err)
		t.reply(ctx, origin, StepLookupFailed(rt.session).Reply)
		return
	}
	rt.pending = &pending{
		timer:    timerLookup,
		ref:      ref,
		origin:   origin,
		deadline: t.agent.After(t.cfg.KnowledgeTimeout, origin.StudentID, ref, protocol.TimerFired{Timer: timerLookup, Ref: ref}),
	}
	t.logger.Info("knowledge lookup sent", "student_id", origin.StudentID, "subject", q.Subject, "level", q.Level, "ref", ref)
}

func (t *Tutor) startDiagnostic(ctx context.Context, rt *sessionRuntime, origin mesh.Envelope, req protocol.DiagnosticRequest) {
	ref := uuid.NewString()
	rt.pending = &pending{
		timer:     timerDiagnostic,
		ref:       ref,
		origin:    origin,
		challenge: req.Challenge,
	}
	if err := t.agent.Send(ctx, domain.RoleAIAssessment, origin.StudentID, ref, req); err != nil {
		t.logger.Warn("assessment agent unreachable, using offline estimate", "student_id", origin.StudentID, "error", err)
		t.finishDiagnostic(ctx, rt, diagnostic.MockRecommendation(req.Challenge, "assessment agent unreachable"))
		return
	}
	rt.pending.deadline = t.agent.After(t.cfg.DiagnosticTimeout, origin.StudentID, ref,
		protocol.TimerFired{Timer: timerDiagnostic, Ref: ref})
	t.logger.Info("diagnostic dispatched", "student_id", origin.StudentID, "ref", ref)
}

func (t *Tutor) handleKnowledgeResult(ctx context.Context, env mesh.Envelope) {
	rt := t.claim(env, timerLookup, env.CorrelationID)
	if rt == nil {
		return
	}
	origin := rt.pending.origin
	rt.pending = nil
	t.reply(ctx, origin, StepLookup(rt.session, env.Payload.(protocol.KnowledgeResult)).Reply)
	t.drain(ctx, rt)
}

func (t *Tutor) handleDiagnosticResult(ctx context.Context, env mesh.Envelope) {
	rt := t.claim(env, timerDiagnostic, env.CorrelationID)
	if rt == nil {
		return
	}
	t.finishDiagnostic(ctx, rt, env.Payload.(protocol.DiagnosticResult).Recommendation)
}

func (t *Tutor) handleTimer(ctx context.Context, env mesh.Envelope) {
	fired := env.Payload.(protocol.TimerFired)
	rt := t.claim(env, fired.Timer, fired.Ref)
	if rt == nil {
		return
	}
	switch fired.Timer {
	case timerLookup:
		t.logger.Warn("knowledge lookup timed out", "student_id", env.StudentID, "ref", fired.Ref)
		origin := rt.pending.origin
		rt.pending = nil
		t.reply(ctx, origin, StepLookupTimeout(rt.session).Reply)
		t.drain(ctx, rt)
	case timerDiagnostic:
		t.logger.Warn("diagnostic timed out, using offline estimate", "student_id", env.StudentID, "ref", fired.Ref)
		t.finishDiagnostic(ctx, rt, diagnostic.MockRecommendation(rt.pending.challenge, "assessment timed out"))
	}
}

// claim returns the session whose pending request matches timer and ref.
// Anything else is a late or stray reply and is dropped.
func (t *Tutor) claim(env mesh.Envelope, timer, ref string) *sessionRuntime {
	rt, ok := t.sessions[env.StudentID]
	if !ok || rt.pending == nil || rt.pending.timer != timer || rt.pending.ref != ref {
		t.logger.Info("late or unmatched reply ignored",
			"student_id", env.StudentID, "kind", env.Kind(), "correlation_id", ref)
		return nil
	}
	if rt.pending.deadline != nil {
		rt.pending.deadline.Stop()
	}
	return rt
}

func (t *Tutor) finishDiagnostic(ctx context.Context, rt *sessionRuntime, rec domain.Recommendation) {
	origin := rt.pending.origin
	rt.pending = nil
	t.reply(ctx, origin, StepRecommendation(rt.session, rec).Reply)
	t.drain(ctx, rt)
}

// drain replays queued messages until one blocks the session again.
func (t *Tutor) drain(ctx context.Context, rt *sessionRuntime) {
	for rt.pending == nil && len(rt.backlog) > 0 {
		next := rt.backlog[0]
		rt.backlog = rt.backlog[1:]
		t.process(ctx, rt, next)
	}
}

func (t *Tutor) handleUnsupported(ctx context.Context, env mesh.Envelope) {
	t.logger.Warn("unsupported message", "kind", env.Kind(), "sender", env.Sender.Address)
	if env.Sender.Role != domain.RoleStudent {
		return
	}
	status := domain.StateIdle
	if rt, ok := t.sessions[env.StudentID]; ok {
		status = rt.session.Status
	}
	t.reply(ctx, env, protocol.Error{
		Code:   protocol.CodeUnsupportedKind,
		Text:   "The tutor cannot handle that request.",
		Status: status,
	})
}

func (t *Tutor) reply(ctx context.Context, origin mesh.Envelope, p protocol.Payload) {
	if err := t.agent.Reply(ctx, origin, p); err != nil {
		t.logger.Warn("reply to student failed", "student_id", origin.StudentID, "kind", p.Kind(), "error", err)
	}
}

func (t *Tutor) logTransition(env mesh.Envelope, from, to domain.SessionState) {
	if from == to {
		return
	}
	t.logger.Info("session transition",
		"student_id", env.StudentID, "kind", env.Kind(), "from", from, "to", to)
}
