package diagnostic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ashureev/tutormesh/internal/domain"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicAnalyzer uses the Anthropic Messages API.
type AnthropicAnalyzer struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicAnalyzer creates an analyzer for apiKey. An empty model selects
// a small default.
func NewAnthropicAnalyzer(apiKey, model, baseURL string) *AnthropicAnalyzer {
	if model == "" {
		model = defaultAnthropicModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicAnalyzer{
		client:    &client,
		model:     anthropic.Model(model),
		maxTokens: 512,
	}
}

func (a *AnthropicAnalyzer) Name() string { return "anthropic" }

func (a *AnthropicAnalyzer) Analyze(ctx context.Context, challenge string) (domain.Recommendation, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(0.2),
		System:      []anthropic.TextBlockParam{{Text: buildSystemPrompt()}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserPrompt(challenge))),
		},
	})
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	rec, err := parseReply(text.String())
	if err != nil {
		return domain.Recommendation{}, err
	}
	rec.Provider = a.Name()
	return rec, nil
}
