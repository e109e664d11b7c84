// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	CORSOrigins    []string
	AddressDir     string
	PublicHost     string
	DBPath         string
	CurriculumFile string
	LogLevel       string
	LogFormat      string

	// KnowledgeTimeout is how long the tutor waits for a lookup reply.
	KnowledgeTimeout time.Duration
	// KnowledgeLookupTimeout bounds the store query; it should be below
	// KnowledgeTimeout so the knowledge agent can still report a failure.
	KnowledgeLookupTimeout time.Duration

	Diagnostic DiagnosticConfig
	UI         UIConfig
	RateLimit  RateLimitConfig
	Transcript TranscriptConfig
}

// DiagnosticConfig selects and tunes the diagnostic analyzer.
type DiagnosticConfig struct {
	Provider string // "anthropic" or "openai"
	APIKey   string
	Model    string
	BaseURL  string
	// Timeout is how long the tutor waits for a recommendation.
	Timeout time.Duration
	// AnalyzerTimeout bounds the external call; it should be below Timeout
	// so the assessment agent can still answer with a fallback.
	AnalyzerTimeout time.Duration
}

// UIConfig tunes the UI output buffer and request polling.
type UIConfig struct {
	Retention    time.Duration
	MaxEntries   int
	PollDeadline time.Duration
	PollInterval time.Duration
	MaxBodyBytes int64
}

// RateLimitConfig limits submissions per student.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	provider := strings.ToLower(getEnv("DIAGNOSTIC_PROVIDER", "anthropic"))

	cfg := &Config{
		Port:                               getEnv("PORT", "8080"),
		FrontendURL:                 getEnv("FRONTEND_URL", ""),
		CORSOrigins:                 getEnvList("CORS_ORIGINS", []string{"*"}),
		AddressDir:                   getEnv("ADDRESS_DIR", "./data/addresses"),
		PublicHost:                   getEnv("PUBLIC_HOST", "127.0.0.1"),
		DBPath:                           getEnv("DB_PATH", "./data/curriculum.db"),
		CurriculumFile:           getEnv("CURRICULUM_FILE", ""),
		LogLevel:                       getEnv("LOG_LEVEL", "info"),
		LogFormat:                     getEnv("LOG_FORMAT", "json"),
		KnowledgeTimeout:       getEnvDuration("KNOWLEDGE_TIMEOUT", 5*time.Second),
		KnowledgeLookupTimeout: getEnvDuration("KNOWLEDGE_LOOKUP_TIMEOUT", 3*time.Second),
		Diagnostic: DiagnosticConfig{
			Provider:        provider,
			APIKey:          diagnosticKey(provider),
			Model:           getEnv("DIAGNOSTIC_MODEL", ""),
			BaseURL:         getEnv("DIAGNOSTIC_BASE_URL", ""),
			Timeout:         getEnvDuration("DIAGNOSTIC_TIMEOUT", 8*time.Second),
			AnalyzerTimeout: getEnvDuration("ANALYZER_TIMEOUT", 6*time.Second),
		},
		UI: UIConfig{
			Retention:    getEnvDuration("UI_RETENTION", 10*time.Second),
			MaxEntries:   getEnvInt("UI_MAX_ENTRIES", 50),
			PollDeadline: getEnvDuration("UI_POLL_DEADLINE", 4*time.Second),
			PollInterval: getEnvDuration("UI_POLL_INTERVAL", 100*time.Millisecond),
			MaxBodyBytes: int64(getEnvInt("UI_MAX_BODY_BYTES", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_ENABLED", false),
			Dir:       getEnv("TRANSCRIPT_DIR", "./data/logs/transcripts"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// diagnosticKey reads DIAGNOSTIC_API_KEY, falling back to the provider's
// conventional variable.
func diagnosticKey(provider string) string {
	if key := strings.TrimSpace(getEnv("DIAGNOSTIC_API_KEY", "")); key != "" {
		return key
	}
	fallback := "ANTHROPIC_API_KEY"
	if provider == "openai" || provider == "openrouter" {
		fallback = "OPENAI_API_KEY"
	}
	return strings.TrimSpace(getEnv(fallback, ""))
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.AddressDir == "" {
		return fmt.Errorf("ADDRESS_DIR cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Diagnostic.Provider {
	case "anthropic", "openai", "openrouter":
	default:
		return fmt.Errorf("DIAGNOSTIC_PROVIDER must be anthropic or openai, got %q", c.Diagnostic.Provider)
	}
	if c.Diagnostic.Timeout <= 0 || c.Diagnostic.AnalyzerTimeout <= 0 {
		return fmt.Errorf("DIAGNOSTIC_TIMEOUT and ANALYZER_TIMEOUT must be > 0")
	}
	if c.KnowledgeTimeout <= 0 || c.KnowledgeLookupTimeout <= 0 {
		return fmt.Errorf("KNOWLEDGE_TIMEOUT and KNOWLEDGE_LOOKUP_TIMEOUT must be > 0")
	}
	if c.UI.Retention <= 0 || c.UI.PollDeadline <= 0 || c.UI.PollInterval <= 0 {
		return fmt.Errorf("UI_RETENTION, UI_POLL_DEADLINE and UI_POLL_INTERVAL must be > 0")
	}
	if c.UI.MaxEntries <= 0 {
		return fmt.Errorf("UI_MAX_ENTRIES must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS allow-list. FRONTEND_URL is added when set.
func (c *Config) AllowedOrigins() []string {
	origins := append([]string(nil), c.CORSOrigins...)
	if c.FrontendURL != "" {
		origins = append(origins, c.FrontendURL)
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
