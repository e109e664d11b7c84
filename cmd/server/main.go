// TutorMesh - tutoring agents and UI bridge in a single process
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashureev/tutormesh/internal/app"
	"github.com/ashureev/tutormesh/internal/config"
	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/registry"
	"github.com/ashureev/tutormesh/internal/student"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// An interactive console owns stdout, so logs move to stderr.
	interactive := student.IsTerminal(os.Stdin) && student.IsTerminal(os.Stdout)
	logOut := os.Stdout
	if interactive {
		logOut = os.Stderr
	}
	logger := app.NewLogger(logOut, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "interactive", interactive)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{
		Roles:    domain.Roles,
		Registry: registry.NewMemoryRegistry(),
		HTTPAddr: ":" + cfg.Port,
	}
	if interactive {
		opts.Console = student.NewConsole(os.Stdout)
		opts.ConsoleInput = os.Stdin
		opts.ConsoleStudent = getenv("CONSOLE_STUDENT_ID", "console")
	}

	a, err := app.New(ctx, cfg, opts, logger)
	if err != nil {
		slog.Error("Failed to initialize agents", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to release resources", "error", closeErr)
		}
	}()

	if err := a.Run(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		stop()
		_ = a.Close()
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
