package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey checks the key format for providers with a known prefix.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "gemini":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Gemini API key format (should start with AIza)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateCronSchedule validates a five-field cron expression
func (v *Validator) ValidateCronSchedule(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// ValidateConfig collects every problem, including soft ones such as an
// unusual key format that Validate lets through.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := cfg.Validate(); err != nil {
		errors = append(errors, err)
	}

	if strings.EqualFold(cfg.Provider.Name, "offline") {
		errors = append(errors, fmt.Errorf("provider is offline: every answer is a canned mock response"))
	} else if cfg.Offline() {
		errors = append(errors, fmt.Errorf("no %s API key configured: running in offline mode", cfg.Provider.Name))
	} else if err := v.ValidateAPIKey(cfg.Provider.APIKey, strings.ToLower(cfg.Provider.Name)); err != nil {
		errors = append(errors, fmt.Errorf("provider: %w", err))
	}

	sharedKey := strings.EqualFold(cfg.Provider.Name, "openai") && cfg.Provider.APIKey != ""
	if cfg.Memory.Ranker == "embedding" && cfg.Memory.Embedding.APIKey == "" && !sharedKey {
		errors = append(errors, fmt.Errorf("memory.ranker is embedding but no embedding API key is configured: recency will be used"))
	}

	if cfg.Memory.Watch && cfg.Memory.Backend != "file" {
		errors = append(errors, fmt.Errorf("memory.watch only applies to the file backend"))
	}

	return errors
}
