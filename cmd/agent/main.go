// TutorMesh - one agent per process, addressed over gRPC
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/tutormesh/internal/app"
	"github.com/ashureev/tutormesh/internal/config"
	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/registry"
	"github.com/ashureev/tutormesh/internal/student"
)

type flags struct {
	role    string
	listen  string
	console bool
	student string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "tutormesh-agent",
		Short: "Run one tutoring agent with a gRPC transport",
		Long: "Runs a single agent role. The agent publishes its address under ADDRESS_DIR " +
			"and resolves peers from the same directory. The student role also serves the HTTP bridge on PORT.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.role, "role", "", "agent role: student, tutor, knowledge or ai_assessment")
	cmd.Flags().StringVar(&f.listen, "listen", ":0", "gRPC listen address")
	cmd.Flags().BoolVar(&f.console, "console", false, "read student input from stdin (student role)")
	cmd.Flags().StringVar(&f.student, "student-id", "console", "student id for console input")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func run(parent context.Context, f *flags) error {
	envErr := godotenv.Load()

	role, err := domain.ParseRole(f.role)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logOut := os.Stdout
	if f.console {
		logOut = os.Stderr
	}
	logger := app.NewLogger(logOut, cfg.LogLevel, cfg.LogFormat).With("process_role", role)
	slog.SetDefault(logger)
	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}

	lis, err := net.Listen("tcp", f.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", f.listen, err)
	}
	_, port, err := net.SplitHostPort(lis.Addr().String())
	if err != nil {
		_ = lis.Close()
		return fmt.Errorf("parse listen address: %w", err)
	}
	advertise := net.JoinHostPort(cfg.PublicHost, port)

	reg, err := registry.NewFileRegistry(cfg.AddressDir, logger, registry.WithAdvertise(advertise))
	if err != nil {
		_ = lis.Close()
		return fmt.Errorf("open address registry: %w", err)
	}
	defer func() {
		if closeErr := reg.Close(); closeErr != nil {
			slog.Warn("Failed to close address registry", "error", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{
		Roles:     []domain.Role{role},
		Registry:  reg,
		Transport: lis,
	}
	if role == domain.RoleStudent {
		opts.HTTPAddr = ":" + cfg.Port
		if f.console {
			opts.Console = student.NewConsole(os.Stdout)
			opts.ConsoleInput = os.Stdin
			opts.ConsoleStudent = f.student
		}
	}

	a, err := app.New(ctx, cfg, opts, logger)
	if err != nil {
		_ = lis.Close()
		return fmt.Errorf("initialize agent: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to release resources", "error", closeErr)
		}
	}()

	slog.Info("Agent started", "role", role, "advertise", advertise, "address_dir", cfg.AddressDir)
	if err := a.Run(ctx); err != nil {
		return err
	}
	slog.Info("Agent stopped")
	return nil
}
