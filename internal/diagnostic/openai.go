package diagnostic

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4oMini

// OpenAIAnalyzer uses an OpenAI-compatible Chat Completions endpoint.
// Setting baseURL points it at gateways such as OpenRouter.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnalyzer creates an analyzer for apiKey.
func NewOpenAIAnalyzer(apiKey, model, baseURL string) *OpenAIAnalyzer {
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIAnalyzer{client: &client, model: model}
}

func (o *OpenAIAnalyzer) Name() string { return "openai" }

func (o *OpenAIAnalyzer) Analyze(ctx context.Context, challenge string) (domain.Recommendation, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(buildSystemPrompt()),
			openai.UserMessage(buildUserPrompt(challenge)),
		},
		Temperature:         openai.Float(0.2),
		MaxCompletionTokens: openai.Int(512),
	})
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Recommendation{}, errors.New("openai returned no choices")
	}

	rec, err := parseReply(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.Recommendation{}, err
	}
	rec.Provider = o.Name()
	return rec, nil
}
