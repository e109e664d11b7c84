// Package app assembles agents, transports and the UI bridge into a runnable
// process. The single-process server hosts every role; the per-role agent
// command hosts one.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/tutormesh/internal/api"
	"github.com/ashureev/tutormesh/internal/bridge"
	"github.com/ashureev/tutormesh/internal/config"
	"github.com/ashureev/tutormesh/internal/diagnostic"
	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/knowledge"
	"github.com/ashureev/tutormesh/internal/mesh"
	"github.com/ashureev/tutormesh/internal/registry"
	"github.com/ashureev/tutormesh/internal/store"
	"github.com/ashureev/tutormesh/internal/student"
	"github.com/ashureev/tutormesh/internal/transcript"
	"github.com/ashureev/tutormesh/internal/tutor"
)

const (
	shutdownTimeout  = 10 * time.Second
	forwarderTimeout = 5 * time.Second
)

// Options selects what a process hosts.
type Options struct {
	Roles    []domain.Role
	Registry registry.Registry

	// Transport, when set, accepts envelopes from other processes and
	// enables forwarding to remote addresses.
	Transport net.Listener

	// HTTPAddr serves the UI bridge when the student role is hosted.
	HTTPAddr string

	// Source replaces the SQLite-backed curriculum.
	Source knowledge.Source

	// Console echoes student output. ConsoleInput, when set, is read as
	// interactive input for ConsoleStudent.
	Console        *student.Console
	ConsoleInput   io.Reader
	ConsoleStudent string
}

// App is a set of hosted agents sharing one router.
type App struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	router    *mesh.Router
	forwarder *mesh.GrpcForwarder
	runners   []func(context.Context) error
	closers   []func() error

	buffer  *bridge.Buffer
	student *student.Agent
	bridgeH *api.BridgeHandler
	handler http.Handler
}

// New registers the requested roles and builds their agents. Agents do not
// process messages until Run.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Registry == nil {
		return nil, errors.New("app: registry is required")
	}
	if len(opts.Roles) == 0 {
		opts.Roles = domain.Roles
	}

	a := &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		router: mesh.NewRouter(logger),
	}

	if opts.Transport != nil {
		a.forwarder = mesh.NewGrpcForwarder(forwarderTimeout, logger)
		a.router.SetForwarder(a.forwarder)
		a.closers = append(a.closers, func() error {
			a.forwarder.Close()
			return nil
		})
	}

	if cfg.Transcript.Enabled {
		tl, err := transcript.New(transcript.Config{
			Enabled:   true,
			Dir:       cfg.Transcript.Dir,
			QueueSize: cfg.Transcript.QueueSize,
		}, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.router.AddTap(transcript.Tap(tl))
		a.closers = append(a.closers, tl.Close)
	}

	for _, role := range opts.Roles {
		if err := a.host(ctx, role); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) host(ctx context.Context, role domain.Role) error {
	ma, err := mesh.NewAgent(role, a.opts.Registry, a.router, a.logger)
	if err != nil {
		return err
	}

	switch role {
	case domain.RoleKnowledge:
		source, err := a.knowledgeSource(ctx)
		if err != nil {
			return err
		}
		a.runners = append(a.runners, knowledge.NewAgent(ma, source, a.cfg.KnowledgeLookupTimeout).Run)

	case domain.RoleAIAssessment:
		svc := diagnostic.NewServiceFromConfig(a.cfg.Diagnostic, a.logger)
		a.runners = append(a.runners, diagnostic.NewAgent(ma, svc, a.cfg.Diagnostic.AnalyzerTimeout).Run)

	case domain.RoleTutor:
		t := tutor.New(ma, tutor.Config{
			KnowledgeTimeout:  a.cfg.KnowledgeTimeout,
			DiagnosticTimeout: a.cfg.Diagnostic.Timeout,
		})
		a.runners = append(a.runners, t.Run)

	case domain.RoleStudent:
		a.buffer = bridge.NewBuffer(a.cfg.UI.MaxEntries, a.cfg.UI.Retention)
		a.student = student.New(ma, a.buffer, a.opts.Console)
		a.bridgeH = api.NewBridgeHandler(a.student, a.buffer, a.cfg, a.logger)
		a.handler = api.NewRouter(a.cfg, a.bridgeH)
		a.runners = append(a.runners, a.student.Run)
		a.closers = append(a.closers, func() error {
			a.bridgeH.Close()
			return nil
		})

	default:
		return fmt.Errorf("app: unknown role %q", role)
	}

	a.logger.Info("agent registered", "role", role, "address", ma.Identity().Address)
	return nil
}

func (a *App) knowledgeSource(ctx context.Context) (knowledge.Source, error) {
	if a.opts.Source != nil {
		return a.opts.Source, nil
	}
	repo, err := store.NewSQLite(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.closers = append(a.closers, repo.Close)

	if err := repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database health check: %w", err)
	}
	curriculum, err := store.LoadCurriculum(a.cfg.CurriculumFile)
	if err != nil {
		return nil, err
	}
	n, err := store.Seed(ctx, repo, curriculum)
	if err != nil {
		return nil, fmt.Errorf("seed curriculum: %w", err)
	}
	a.logger.Info("curriculum seeded", "questions", n, "db", a.cfg.DBPath)
	return repo, nil
}

// Handler returns the UI bridge handler, or nil when the student role is not
// hosted here.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Student returns the hosted student agent, if any.
func (a *App) Student() *student.Agent {
	return a.student
}

// Run starts every hosted agent plus the transport, sweeper, HTTP server and
// console when configured. It returns when ctx is cancelled or any component
// fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, run := range a.runners {
		g.Go(func() error {
			return run(gctx)
		})
	}

	if a.opts.Transport != nil {
		srv := mesh.NewTransportServer(a.router, a.logger)
		g.Go(func() error {
			return srv.Serve(gctx, a.opts.Transport)
		})
	}

	if a.buffer != nil {
		bridge.StartSweeper(gctx, a.buffer, a.cfg.UI.Retention, a.logger)
	}

	if a.handler != nil && a.opts.HTTPAddr != "" {
		g.Go(func() error {
			return a.serveHTTP(gctx)
		})
	}

	if a.student != nil && a.opts.Console != nil && a.opts.ConsoleInput != nil {
		g.Go(func() error {
			err := a.opts.Console.ReadLoop(gctx, a.opts.ConsoleInput, a.opts.ConsoleStudent, a.student.Submit)
			if err != nil {
				a.logger.Warn("console input ended", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (a *App) serveHTTP(ctx context.Context) error {
	// Submissions hold the request open for up to the poll deadline and the
	// output websocket is long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:              a.opts.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("Server stopped successfully")
	return nil
}

// Close releases stores, loggers and connections in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
