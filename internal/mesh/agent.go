package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/protocol"
	"github.com/ashureev/tutormesh/internal/registry"
)

const (
	seenWindow  = 5 * time.Minute
	seenMaxSize = 10000
)

// Handler processes one envelope on the agent's own goroutine.
type Handler func(ctx context.Context, env Envelope)

// Agent is a single-threaded actor: a registered identity, a mailbox and a
// table of handlers keyed by payload kind.
type Agent struct {
	id       domain.AgentIdentity
	router   *Router
	registry registry.Registry
	box      *mailbox
	seen     *seenCache
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[protocol.Kind]Handler
	fallback Handler
}

// NewAgent registers role and attaches a mailbox for its address.
func NewAgent(role domain.Role, reg registry.Registry, router *Router, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id, err := reg.Register(role)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", role, err)
	}
	return &Agent{
		id:       id,
		router:   router,
		registry: reg,
		box:      router.attach(id.Address),
		seen:     newSeenCache(seenWindow, seenMaxSize),
		logger:   logger.With("role", role, "address", id.Address),
		handlers: make(map[protocol.Kind]Handler),
	}, nil
}

// Identity returns the agent's registered identity.
func (a *Agent) Identity() domain.AgentIdentity {
	return a.id
}

// Logger returns the agent's logger.
func (a *Agent) Logger() *slog.Logger {
	return a.logger
}

// OnMessage registers h for envelopes carrying kind. A later registration for
// the same kind replaces the earlier one.
func (a *Agent) OnMessage(kind protocol.Kind, h Handler) {
	a.mu.Lock()
	a.handlers[kind] = h
	a.mu.Unlock()
}

// OnUnhandled registers h for kinds with no handler.
func (a *Agent) OnUnhandled(h Handler) {
	a.mu.Lock()
	a.fallback = h
	a.mu.Unlock()
}

// Run drains the mailbox until ctx is cancelled. The address is detached from
// the router on return.
func (a *Agent) Run(ctx context.Context) error {
	defer a.router.detach(a.id.Address)
	a.logger.Info("agent started")

	for {
		env, err := a.box.pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errMailboxClosed) {
				a.logger.Info("agent stopped")
				return nil
			}
			return err
		}
		a.dispatch(ctx, env)
	}
}

func (a *Agent) dispatch(ctx context.Context, env Envelope) {
	if env.ID != "" && a.seen.checkAndMark(env.ID) {
		a.logger.Debug("duplicate envelope dropped", "id", env.ID, "kind", env.Kind())
		return
	}

	a.mu.RLock()
	h, ok := a.handlers[env.Kind()]
	if !ok {
		h = a.fallback
	}
	a.mu.RUnlock()

	if h == nil {
		a.logger.Warn("no handler for envelope", "id", env.ID, "kind", env.Kind(), "sender", env.Sender.Address)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("handler panicked", "kind", env.Kind(), "id", env.ID, "panic", rec)
		}
	}()
	h(ctx, env)
}

// Send resolves role and delivers p. On ErrUnroutableRecipient the role is
// re-resolved once and the send retried if the address changed.
func (a *Agent) Send(ctx context.Context, role domain.Role, studentID, correlationID string, p protocol.Payload) error {
	recipient, err := a.registry.Resolve(role)
	if err != nil {
		return err
	}
	env := NewEnvelope(a.id, recipient, studentID, correlationID, p)
	err = a.router.Send(ctx, env)
	if !errors.Is(err, ErrUnroutableRecipient) {
		return err
	}

	a.registry.Invalidate(role)
	fresh, rerr := a.registry.Resolve(role)
	if rerr != nil {
		return errors.Join(err, rerr)
	}
	if fresh.Address == recipient.Address {
		return err
	}
	a.logger.Info("re-resolved peer", "peer_role", role, "old", recipient.Address, "new", fresh.Address)
	env.Recipient = fresh
	return a.router.Send(ctx, env)
}

// Reply answers req with p under the same correlation id and student.
func (a *Agent) Reply(ctx context.Context, req Envelope, p protocol.Payload) error {
	env := NewEnvelope(a.id, req.Sender, req.StudentID, req.CorrelationID, p)
	err := a.router.Send(ctx, env)
	if errors.Is(err, ErrUnroutableRecipient) && req.Sender.Role != "" {
		return a.Send(ctx, req.Sender.Role, req.StudentID, req.CorrelationID, p)
	}
	return err
}

// Post queues p in the agent's own mailbox.
func (a *Agent) Post(studentID, correlationID string, p protocol.Payload) bool {
	return a.box.push(NewEnvelope(a.id, a.id, studentID, correlationID, p))
}

// After posts p to the agent itself once d has elapsed.
func (a *Agent) After(d time.Duration, studentID, correlationID string, p protocol.Payload) *time.Timer {
	return time.AfterFunc(d, func() {
		a.Post(studentID, correlationID, p)
	})
}

// Pending returns the number of queued envelopes.
func (a *Agent) Pending() int {
	return a.box.len()
}
