package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ADVISOR_PROVIDER_API_KEY.
const EnvPrefix = "ADVISOR"

// Conventional credential variables consulted when the config has no key.
var providerKeyEnv = map[string]string{
	"gemini":    "GEMINI_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file if present, applies ADVISOR_* overrides and
// fills derived paths. A missing file yields defaults plus overrides.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	// Decoding into a non-nil slice would keep trailing default agents.
	cfg := DefaultConfig()
	cfg.Agents = nil
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultConfig().Agents
	}

	applyCredentialEnv(cfg)

	if err := applyPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the config path.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to get home directory")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")

	v.Set("provider", cfg.Provider)
	v.Set("memory", cfg.Memory)
	v.Set("agents", cfg.Agents)
	v.Set("logging", cfg.Logging)
	v.Set("gateway", cfg.Gateway)
	v.Set("tracing", cfg.Tracing)
	if cfg.RolesFile != "" {
		v.Set("roles_file", cfg.RolesFile)
	}
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".advisor", "advisor.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.api_key", d.Provider.APIKey)
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.require", d.Provider.Require)
	v.SetDefault("provider.max_attempts", d.Provider.MaxAttempts)
	v.SetDefault("provider.backoff_base_ms", d.Provider.BackoffBaseMs)
	v.SetDefault("provider.attempt_timeout_seconds", d.Provider.AttemptTimeoutSeconds)
	v.SetDefault("provider.rate_limit", d.Provider.RateLimit)
	v.SetDefault("provider.rate_burst", d.Provider.RateBurst)

	v.SetDefault("memory.backend", d.Memory.Backend)
	v.SetDefault("memory.path", d.Memory.Path)
	v.SetDefault("memory.max_entries", d.Memory.MaxEntries)
	v.SetDefault("memory.top_k", d.Memory.TopK)
	v.SetDefault("memory.ranker", d.Memory.Ranker)
	v.SetDefault("memory.embedding.model", d.Memory.Embedding.Model)
	v.SetDefault("memory.embedding.api_key", d.Memory.Embedding.APIKey)
	v.SetDefault("memory.embedding.base_url", d.Memory.Embedding.BaseURL)
	v.SetDefault("memory.watch", d.Memory.Watch)
	v.SetDefault("memory.snapshot.schedule", d.Memory.Snapshot.Schedule)
	v.SetDefault("memory.snapshot.dir", d.Memory.Snapshot.Dir)
	v.SetDefault("memory.snapshot.keep", d.Memory.Snapshot.Keep)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("gateway.host", d.Gateway.Host)
	v.SetDefault("gateway.port", d.Gateway.Port)
	v.SetDefault("gateway.rate_limit", d.Gateway.RateLimit)
	v.SetDefault("gateway.rate_burst", d.Gateway.RateBurst)
	v.SetDefault("gateway.shutdown_timeout_seconds", d.Gateway.ShutdownTimeoutSeconds)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)

	v.SetDefault("roles_file", d.RolesFile)
	v.SetDefault("data_dir", d.DataDir)
}

func applyCredentialEnv(cfg *Config) {
	if cfg.Provider.APIKey == "" {
		if name, ok := providerKeyEnv[strings.ToLower(cfg.Provider.Name)]; ok {
			cfg.Provider.APIKey = os.Getenv(name)
		}
	}
	if cfg.Memory.Embedding.APIKey == "" {
		cfg.Memory.Embedding.APIKey = os.Getenv(providerKeyEnv["openai"])
	}
}

func applyPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".advisor")
	}

	if cfg.Memory.Path == "" {
		name := "memory.json"
		if cfg.Memory.Backend == "sqlite" {
			name = "memory.db"
		}
		cfg.Memory.Path = filepath.Join(cfg.DataDir, name)
	}

	if cfg.Memory.Snapshot.Dir == "" {
		cfg.Memory.Snapshot.Dir = filepath.Join(cfg.DataDir, "snapshots")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "advisor.log")
	}

	return nil
}
