package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Upper bounds on memory settings.
const (
	MaxMemoryEntries = 200 // entries kept per user
	MaxTopK          = 5   // memories retrieved per query
)

// Config represents the advisor service configuration
type Config struct {
	// Completion provider
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Memory store
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Agent roles dispatched for every query, in order
	Agents []AgentConfig `json:"agents" mapstructure:"agents"`

	// Optional YAML file of extra role personas, keyed by role id
	RolesFile string `json:"roles_file" mapstructure:"roles_file"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig selects the text-generation service.
// An empty APIKey runs the service in offline mode.
type ProviderConfig struct {
	Name                  string  `json:"name" mapstructure:"name"` // gemini, openai, anthropic, offline
	APIKey                string  `json:"api_key" mapstructure:"api_key"`
	Model                 string  `json:"model" mapstructure:"model"`
	BaseURL               string  `json:"base_url" mapstructure:"base_url"`
	Require               bool    `json:"require" mapstructure:"require"` // refuse to start offline
	MaxAttempts           int     `json:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseMs         int     `json:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	AttemptTimeoutSeconds int     `json:"attempt_timeout_seconds" mapstructure:"attempt_timeout_seconds"`
	RateLimit             float64 `json:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst             int     `json:"rate_burst" mapstructure:"rate_burst"`
}

// MemoryConfig holds memory store configuration
type MemoryConfig struct {
	Backend    string          `json:"backend" mapstructure:"backend"` // file, sqlite
	Path       string          `json:"path" mapstructure:"path"`
	MaxEntries int             `json:"max_entries" mapstructure:"max_entries"`
	TopK       int             `json:"top_k" mapstructure:"top_k"`
	Ranker     string          `json:"ranker" mapstructure:"ranker"` // recency, embedding
	Embedding  EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	Watch      bool            `json:"watch" mapstructure:"watch"`
	Snapshot   SnapshotConfig  `json:"snapshot" mapstructure:"snapshot"`
}

// EmbeddingConfig configures the OpenAI embedder used by the embedding ranker.
type EmbeddingConfig struct {
	Model   string `json:"model" mapstructure:"model"`
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// SnapshotConfig schedules copies of the memory document. An empty schedule disables them.
type SnapshotConfig struct {
	Schedule string `json:"schedule" mapstructure:"schedule"`
	Dir      string `json:"dir" mapstructure:"dir"`
	Keep     int    `json:"keep" mapstructure:"keep"`
}

// AgentConfig binds an agent role to its result key. Persona and Instruction
// define a custom role; built-in roles leave them empty.
type AgentConfig struct {
	Role        string `json:"role" mapstructure:"role"`
	Key         string `json:"key" mapstructure:"key"`
	Label       string `json:"label,omitempty" mapstructure:"label"`
	Persona     string `json:"persona,omitempty" mapstructure:"persona"`
	Instruction string `json:"instruction,omitempty" mapstructure:"instruction"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds HTTP gateway configuration
type GatewayConfig struct {
	Host                   string  `json:"host" mapstructure:"host"`
	Port                   int     `json:"port" mapstructure:"port"`
	RateLimit              float64 `json:"rate_limit" mapstructure:"rate_limit"` // per user, requests per second
	RateBurst              int     `json:"rate_burst" mapstructure:"rate_burst"`
	ShutdownTimeoutSeconds int     `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:                  "gemini",
			MaxAttempts:           3,
			BackoffBaseMs:         1000,
			AttemptTimeoutSeconds: 30,
		},
		Memory: MemoryConfig{
			Backend:    "file",
			MaxEntries: MaxMemoryEntries,
			TopK:       MaxTopK,
			Ranker:     "recency",
			Embedding: EmbeddingConfig{
				Model: "text-embedding-3-small",
			},
			Snapshot: SnapshotConfig{
				Keep: 7,
			},
		},
		Agents: []AgentConfig{
			{Role: "academic_advisor", Key: "academic"},
			{Role: "career_counselor", Key: "career"},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Host:                   "0.0.0.0",
			Port:                   8000,
			RateLimit:              2,
			RateBurst:              5,
			ShutdownTimeoutSeconds: 10,
		},
		Tracing: TracingConfig{
			ServiceName: "academic-advisor",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	masked := *c
	masked.Provider.APIKey = maskSecret(c.Provider.APIKey)
	masked.Memory.Embedding.APIKey = maskSecret(c.Memory.Embedding.APIKey)
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

// Offline reports whether completions will come from the offline responder.
func (c *Config) Offline() bool {
	return strings.TrimSpace(c.Provider.APIKey) == "" || strings.EqualFold(c.Provider.Name, "offline")
}

// BackoffBase returns the first retry delay.
func (p ProviderConfig) BackoffBase() time.Duration {
	return time.Duration(p.BackoffBaseMs) * time.Millisecond
}

// AttemptTimeout returns the per-attempt deadline.
func (p ProviderConfig) AttemptTimeout() time.Duration {
	return time.Duration(p.AttemptTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (g GatewayConfig) ShutdownTimeout() time.Duration {
	return time.Duration(g.ShutdownTimeoutSeconds) * time.Second
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	switch strings.ToLower(c.Provider.Name) {
	case "", "gemini", "openai", "anthropic", "offline":
	default:
		return fmt.Errorf("invalid provider %s (must be: gemini, openai, anthropic, offline)", c.Provider.Name)
	}
	if c.Provider.Require && c.Offline() {
		return fmt.Errorf("provider.require is set but no %s API key is configured", c.Provider.Name)
	}
	if c.Provider.MaxAttempts < 1 {
		return fmt.Errorf("provider.max_attempts must be >= 1")
	}
	if c.Provider.BackoffBaseMs < 0 {
		return fmt.Errorf("provider.backoff_base_ms must be >= 0")
	}
	if c.Provider.AttemptTimeoutSeconds < 1 {
		return fmt.Errorf("provider.attempt_timeout_seconds must be >= 1")
	}
	if c.Provider.RateLimit < 0 {
		return fmt.Errorf("provider.rate_limit must be >= 0")
	}

	if c.Memory.Backend != "file" && c.Memory.Backend != "sqlite" {
		return fmt.Errorf("invalid memory backend: %s (must be: file, sqlite)", c.Memory.Backend)
	}
	if c.Memory.MaxEntries < 1 || c.Memory.MaxEntries > MaxMemoryEntries {
		return fmt.Errorf("memory.max_entries must be between 1 and %d", MaxMemoryEntries)
	}
	if c.Memory.TopK < 1 || c.Memory.TopK > MaxTopK {
		return fmt.Errorf("memory.top_k must be between 1 and %d", MaxTopK)
	}
	if c.Memory.Ranker != "recency" && c.Memory.Ranker != "embedding" {
		return fmt.Errorf("invalid memory ranker: %s (must be: recency, embedding)", c.Memory.Ranker)
	}
	if c.Memory.Snapshot.Schedule != "" {
		if err := v.ValidateCronSchedule(c.Memory.Snapshot.Schedule); err != nil {
			return fmt.Errorf("memory.snapshot.schedule: %w", err)
		}
	}
	if c.Memory.Snapshot.Keep < 0 {
		return fmt.Errorf("memory.snapshot.keep must be >= 0")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}
	keys := make(map[string]bool, len(c.Agents))
	for i, agent := range c.Agents {
		if agent.Role == "" {
			return fmt.Errorf("agent %d: role is required", i)
		}
		if agent.Key == "" {
			return fmt.Errorf("agent %s: key is required", agent.Role)
		}
		if agent.Key == "memories" {
			return fmt.Errorf("agent %s: key %q is reserved", agent.Role, agent.Key)
		}
		if keys[agent.Key] {
			return fmt.Errorf("agent %s: duplicate key %s", agent.Role, agent.Key)
		}
		keys[agent.Key] = true
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if err := v.ValidatePort(c.Gateway.Port); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if c.Gateway.RateLimit < 0 {
		return fmt.Errorf("gateway.rate_limit must be >= 0")
	}

	return nil
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
