package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Krish-357/Academic-Advisor/internal/config"
	"github.com/Krish-357/Academic-Advisor/pkg/agent"
	"github.com/Krish-357/Academic-Advisor/pkg/memory"
	"github.com/Krish-357/Academic-Advisor/pkg/orchestrator"
	"github.com/Krish-357/Academic-Advisor/pkg/prompt"
	"github.com/rs/zerolog"
)

// sqliteStoreID names the single memory document kept in a sqlite backend.
const sqliteStoreID = "default"

// Core is the request path shared by the server and the one-shot CLI commands:
// memory store, completion client and orchestrator.
type Core struct {
	Store        *memory.Store
	Client       *agent.Client
	Orchestrator *orchestrator.Orchestrator

	backend memory.Backend
	ranker  memory.Ranker
}

// BuildCore wires the request path from configuration. On error every
// component opened so far is closed.
func BuildCore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (core *Core, err error) {
	backend, err := newBackend(cfg.Memory)
	if err != nil {
		return nil, err
	}

	ranker := memory.SelectRanker(ctx, cfg.Memory.Ranker, newEmbedder(cfg), log.With().Str("component", "ranker").Logger())
	defer func() {
		if err != nil {
			closeRanker(ranker)
		}
	}()

	store, err := memory.NewStore(ctx, memory.Config{
		Backend:    backend,
		Ranker:     ranker,
		MaxEntries: cfg.Memory.MaxEntries,
		Logger:     log.With().Str("component", "memory").Logger(),
	})
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	roles, err := composerRoles(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := agent.NewProvider(agent.ProviderConfig{
		Name:    cfg.Provider.Name,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		BaseURL: cfg.Provider.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	client, err := agent.NewClient(agent.ClientConfig{
		Provider: provider,
		Composer: prompt.NewComposer(roles...),
		Policy: agent.Policy{
			MaxAttempts:    cfg.Provider.MaxAttempts,
			BackoffBase:    cfg.Provider.BackoffBase(),
			AttemptTimeout: cfg.Provider.AttemptTimeout(),
		},
		RateLimit: cfg.Provider.RateLimit,
		Burst:     cfg.Provider.RateBurst,
		Logger:    log.With().Str("component", "agent").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Store:  store,
		Client: client,
		Roles:  orchestratorRoles(cfg.Agents),
		TopK:   cfg.Memory.TopK,
		Logger: log.With().Str("component", "orchestrator").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if client.Offline() {
		log.Warn().Msg("No provider credential configured, answering with offline responses")
	} else {
		log.Info().Str("provider", client.ProviderName()).Msg("Completion provider selected")
	}

	return &Core{
		Store:        store,
		Client:       client,
		Orchestrator: orch,
		backend:      backend,
		ranker:       ranker,
	}, nil
}

// Backend returns the memory document backend.
func (c *Core) Backend() memory.Backend {
	return c.backend
}

// Close releases the store and ranker caches.
func (c *Core) Close() error {
	closeRanker(c.ranker)
	return c.Store.Close()
}

// OpenStore opens the memory store alone with recency ranking, for commands
// that inspect or edit memories without answering queries.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*memory.Store, error) {
	backend, err := newBackend(cfg.Memory)
	if err != nil {
		return nil, err
	}

	store, err := memory.NewStore(ctx, memory.Config{
		Backend:    backend,
		MaxEntries: cfg.Memory.MaxEntries,
		Logger:     log.With().Str("component", "memory").Logger(),
	})
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	return store, nil
}

func newBackend(cfg config.MemoryConfig) (memory.Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("memory path is required")
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return memory.NewFileBackend(cfg.Path)
	case "sqlite":
		return memory.NewSQLiteBackend(cfg.Path, sqliteStoreID)
	default:
		return nil, fmt.Errorf("unsupported memory backend: %s", cfg.Backend)
	}
}

// newEmbedder returns nil unless the embedding ranker is selected and an
// OpenAI-compatible key is available.
func newEmbedder(cfg *config.Config) memory.Embedder {
	if cfg.Memory.Ranker != memory.RankerEmbedding {
		return nil
	}

	key := cfg.Memory.Embedding.APIKey
	if key == "" && strings.EqualFold(cfg.Provider.Name, agent.ProviderOpenAI) {
		key = cfg.Provider.APIKey
	}
	if key == "" {
		return nil
	}
	return memory.NewOpenAIEmbedder(key, cfg.Memory.Embedding.Model, cfg.Memory.Embedding.BaseURL)
}

func closeRanker(r memory.Ranker) {
	if closer, ok := r.(interface{ Close() }); ok {
		closer.Close()
	}
}

// composerRoles merges the roles file with inline agent personas. Inline
// personas win on a duplicate id.
func composerRoles(cfg *config.Config) ([]prompt.Role, error) {
	var roles []prompt.Role
	if cfg.RolesFile != "" {
		loaded, err := prompt.LoadRoles(cfg.RolesFile)
		if err != nil {
			return nil, err
		}
		roles = append(roles, loaded...)
	}
	return append(roles, customRoles(cfg.Agents)...), nil
}

// customRoles returns composer roles for agents that define their own persona.
func customRoles(agents []config.AgentConfig) []prompt.Role {
	var roles []prompt.Role
	for _, a := range agents {
		if a.Persona == "" {
			continue
		}
		label := a.Label
		if label == "" {
			label = a.Key
		}
		roles = append(roles, prompt.Role{
			ID:          a.Role,
			Label:       label,
			Persona:     a.Persona,
			Instruction: a.Instruction,
		})
	}
	return roles
}

func orchestratorRoles(agents []config.AgentConfig) []orchestrator.Role {
	roles := make([]orchestrator.Role, 0, len(agents))
	for _, a := range agents {
		roles = append(roles, orchestrator.Role{ID: a.Role, Key: a.Key})
	}
	return roles
}
