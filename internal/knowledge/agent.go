package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/tutormesh/internal/mesh"
	"github.com/ashureev/tutormesh/internal/protocol"
	"github.com/ashureev/tutormesh/internal/store"
)

// DefaultLookupTimeout bounds a store lookup when no timeout is configured.
const DefaultLookupTimeout = 3 * time.Second

// Agent serves KnowledgeQuery envelopes from a Source.
type Agent struct {
	agent   *mesh.Agent
	source  Source
	timeout time.Duration
	logger  *slog.Logger
}

// NewAgent wires source into the mesh agent a. timeout bounds each lookup;
// zero selects DefaultLookupTimeout.
func NewAgent(a *mesh.Agent, source Source, timeout time.Duration) *Agent {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	k := &Agent{
		agent:   a,
		source:  source,
		timeout: timeout,
		logger:  a.Logger().With("component", "knowledge"),
	}
	a.OnMessage(protocol.KindKnowledgeQuery, k.handleQuery)
	return k
}

// Run drains the agent's mailbox until ctx is cancelled.
func (k *Agent) Run(ctx context.Context) error {
	return k.agent.Run(ctx)
}

func (k *Agent) handleQuery(ctx context.Context, env mesh.Envelope) {
	query := env.Payload.(protocol.KnowledgeQuery)
	logger := k.logger.With("student_id", env.StudentID, "correlation_id", env.CorrelationID)

	lookupCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	var result protocol.KnowledgeResult
	q, err := k.source.Lookup(lookupCtx, query.Subject, query.Level)
	switch {
	case err == nil:
		result.Question = q
		logger.Info("question found", "subject", q.Subject, "level", q.Level)
	case errors.Is(err, store.ErrNotFound):
		result.NotFound = true
		logger.Info("no question for pair", "subject", query.Subject, "level", query.Level)
	default:
		result.NotFound = true
		result.Reason = "knowledge store unavailable"
		logger.Error("lookup failed", "subject", query.Subject, "level", query.Level, "error", err)
	}

	if err := k.agent.Reply(ctx, env, result); err != nil {
		logger.Warn("failed to reply to knowledge query", "error", err)
	}
}
