package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Provider generates text for a fully composed prompt.
type Provider interface {
	Generate(ctx context.Context, request GenerateRequest) (string, error)

	// Name returns the provider id, e.g. "gemini"
	Name() string

	// DisplayName is used in user-visible error text, e.g. "Gemini"
	DisplayName() string
}

// Provider ids accepted by NewProvider.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOffline   = "offline"
)

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Name       string
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client // Gemini only
}

// NewProvider picks the provider once. A missing credential always yields the
// offline provider; there is no built-in key.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = ProviderGemini
	}

	if name == ProviderOffline || name == "mock" || strings.TrimSpace(cfg.APIKey) == "" {
		return NewOfflineProvider(), nil
	}

	switch name {
	case ProviderGemini:
		return NewGeminiProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.HTTPClient), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}
}
