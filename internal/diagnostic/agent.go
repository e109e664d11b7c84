package diagnostic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tutormesh/internal/mesh"
	"github.com/ashureev/tutormesh/internal/protocol"
)

// Agent is the AI-Assessment agent. Each request is analyzed off the agent's
// loop and answered with a DiagnosticResult.
type Agent struct {
	agent   *mesh.Agent
	service *Service
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewAgent wires service into the mesh agent a. timeout bounds each analysis.
func NewAgent(a *mesh.Agent, service *Service, timeout time.Duration) *Agent {
	d := &Agent{
		agent:   a,
		service: service,
		timeout: timeout,
		logger:  a.Logger().With("component", "ai_assessment"),
	}
	a.OnMessage(protocol.KindDiagnosticRequest, d.handleRequest)
	return d
}

// Run drains the mailbox until ctx is cancelled, then waits for in-flight
// analyses to finish.
func (d *Agent) Run(ctx context.Context) error {
	err := d.agent.Run(ctx)
	d.wg.Wait()
	return err
}

func (d *Agent) handleRequest(ctx context.Context, env mesh.Envelope) {
	req := env.Payload.(protocol.DiagnosticRequest)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		rec := d.service.Dispatch(ctx, req.Challenge, d.timeout)
		d.logger.Info("diagnostic complete",
			"student_id", env.StudentID,
			"correlation_id", env.CorrelationID,
			"subject", rec.Subject,
			"level", rec.Level,
			"mock", rec.Mock)
		// The tutor may have timed out already; a late reply is harmless.
		if err := d.agent.Reply(context.WithoutCancel(ctx), env, protocol.DiagnosticResult{Recommendation: rec}); err != nil {
			d.logger.Warn("failed to reply to diagnostic request", "error", err)
		}
	}()
}
