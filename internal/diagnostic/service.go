package diagnostic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/tutormesh/internal/config"
	"github.com/ashureev/tutormesh/internal/domain"
)

const reasonNoCredential = "no diagnostic credential configured"

// DefaultAnalyzerTimeout bounds an analysis when no timeout is given.
const DefaultAnalyzerTimeout = 6 * time.Second

// Service dispatches diagnostics to an analyzer and falls back to the keyword
// mock whenever the analyzer is missing, fails or is too slow.
type Service struct {
	analyzer Analyzer
	logger   *slog.Logger
}

// NewService wraps analyzer, which may be nil.
func NewService(analyzer Analyzer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{analyzer: analyzer, logger: logger.With("component", "diagnostic")}
}

// NewServiceFromConfig selects the analyzer named by cfg.Provider. Without an
// API key the service serves mock recommendations only.
func NewServiceFromConfig(cfg config.DiagnosticConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		logger.Info("diagnostic credential not set, using mock recommendations")
		return NewService(nil, logger)
	}

	var analyzer Analyzer
	switch strings.ToLower(cfg.Provider) {
	case "openai", "openrouter":
		analyzer = NewOpenAIAnalyzer(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		analyzer = NewAnthropicAnalyzer(cfg.APIKey, cfg.Model, cfg.BaseURL)
	}
	logger.Info("diagnostic analyzer configured", "provider", analyzer.Name(), "model", cfg.Model)
	return NewService(analyzer, logger)
}

// HasAnalyzer reports whether a real analyzer is configured.
func (s *Service) HasAnalyzer() bool {
	return s.analyzer != nil
}

type analyzeResult struct {
	rec domain.Recommendation
	err error
}

// Dispatch returns a recommendation within timeout, or DefaultAnalyzerTimeout
// when timeout is not positive. It never fails: any problem yields a mock
// recommendation carrying the reason.
func (s *Service) Dispatch(ctx context.Context, challenge string, timeout time.Duration) domain.Recommendation {
	if s.analyzer == nil {
		return MockRecommendation(challenge, reasonNoCredential)
	}
	if timeout <= 0 {
		timeout = DefaultAnalyzerTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan analyzeResult, 1)
	go func() {
		rec, err := s.analyzer.Analyze(ctx, challenge)
		done <- analyzeResult{rec: rec, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			s.logger.Warn("analyzer failed, using mock", "provider", s.analyzer.Name(), "error", res.err)
			return MockRecommendation(challenge, fmt.Sprintf("analyzer error: %v", res.err))
		}
		return res.rec
	case <-ctx.Done():
		s.logger.Warn("analyzer timed out, using mock", "provider", s.analyzer.Name(), "timeout", timeout)
		return MockRecommendation(challenge, fmt.Sprintf("analyzer timed out after %s", timeout))
	}
}
