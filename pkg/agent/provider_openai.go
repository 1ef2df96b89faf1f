package agent

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider implements Provider with OpenAI chat completions.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider. SDK retries are disabled;
// Client owns the retry policy.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

func (p *OpenAIProvider) DisplayName() string { return "OpenAI" }

func (p *OpenAIProvider) Generate(ctx context.Context, request GenerateRequest) (string, error) {
	response, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(request.Prompt),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus(ProviderOpenAI, apiErr.StatusCode, apiErr.Error())
		}
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", errors.New("no response choices returned")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// classifyStatus maps an SDK status error onto the retry taxonomy.
func classifyStatus(provider string, code int, body string) error {
	if code == http.StatusTooManyRequests {
		return &RateLimitError{Provider: provider, Body: body}
	}
	return &StatusError{Provider: provider, Code: code, Body: body}
}
