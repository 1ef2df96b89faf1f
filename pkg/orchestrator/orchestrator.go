// Package orchestrator fans one user query out to every configured agent role
// and joins their answers with the memories used to ground them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Krish-357/Academic-Advisor/internal/observability"
	"github.com/Krish-357/Academic-Advisor/internal/tracing"
	"github.com/Krish-357/Academic-Advisor/pkg/agent"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName = "advisor.orchestrator"

	// DefaultTopK is the number of memories retrieved per request and the
	// largest value New accepts.
	DefaultTopK = 5
)

// MemoryStore is the slice of memory.Store the orchestrator needs.
type MemoryStore interface {
	Retrieve(ctx context.Context, userID, query string, topK int) ([]string, error)
	Upsert(ctx context.Context, userID, text string) error
}

// Completer is implemented by agent.Client.
type Completer interface {
	Complete(ctx context.Context, req agent.Request) string
}

// Config holds orchestrator configuration.
type Config struct {
	Store  MemoryStore
	Client Completer
	Roles  []Role // Defaults to DefaultRoles
	TopK   int
	Logger zerolog.Logger
}

// Orchestrator coordinates retrieval, concurrent completion and persistence for one request.
type Orchestrator struct {
	store  MemoryStore
	client Completer
	roles  []Role
	topK   int
	logger zerolog.Logger
}

// New creates an orchestrator. Roles must have unique, non-empty ids and keys.
func New(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, errors.New("memory store is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("completion client is required")
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = DefaultRoles()
	}
	if cfg.TopK <= 0 || cfg.TopK > DefaultTopK {
		cfg.TopK = DefaultTopK
	}

	seen := make(map[string]bool, len(cfg.Roles))
	for _, role := range cfg.Roles {
		if role.ID == "" || role.Key == "" {
			return nil, fmt.Errorf("role requires id and key: %+v", role)
		}
		if role.Key == MemoriesKey {
			return nil, fmt.Errorf("role key %q is reserved", MemoriesKey)
		}
		if seen[role.Key] {
			return nil, fmt.Errorf("duplicate role key: %s", role.Key)
		}
		seen[role.Key] = true
	}

	roles := make([]Role, len(cfg.Roles))
	copy(roles, cfg.Roles)

	return &Orchestrator{
		store:  cfg.Store,
		client: cfg.Client,
		roles:  roles,
		topK:   cfg.TopK,
		logger: cfg.Logger,
	}, nil
}

// Roles returns the configured roles in dispatch order.
func (o *Orchestrator) Roles() []Role {
	out := make([]Role, len(o.roles))
	copy(out, o.roles)
	return out
}

// Handle answers text for userID with every configured role.
// Every role contributes exactly one entry, possibly an error string. Only an
// invalid request or a retrieval failure is returned as an error; a failed
// memory write is logged and does not affect the response.
func (o *Orchestrator) Handle(ctx context.Context, userID, text string, reqContext map[string]interface{}) (resp *AgentResponse, err error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	}
	ctx = tracing.WithUserID(ctx, userID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "orchestrator.handle",
		attribute.String("user_id", userID),
		attribute.Int("roles", len(o.roles)),
	)
	start := time.Now()
	defer func() {
		observability.RecordHandle(time.Since(start), err == nil)
		tracing.FinishSpan(span, err)
	}()

	logger := tracing.LoggerFromContext(ctx, o.logger)

	memories, err := o.store.Retrieve(ctx, userID, text, o.topK)
	if err != nil {
		logger.Error().Err(err).Msg("Memory retrieval failed")
		return nil, fmt.Errorf("retrieve memories: %w", err)
	}
	if memories == nil {
		memories = []string{}
	}

	results := o.dispatch(ctx, text, memories, reqContext)

	// The write must outlive a caller that disconnects right after the answer.
	if err := o.store.Upsert(tracing.Detach(ctx), userID, text); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist memory, continuing")
	}

	resp = &AgentResponse{
		Responses: make(map[string]string, len(o.roles)),
		Memories:  memories,
	}
	for i, role := range o.roles {
		resp.Responses[role.Key] = results[i]
	}

	logger.Info().
		Int("memories", len(memories)).
		Dur("duration", time.Since(start)).
		Msg("Query handled")

	return resp, nil
}

// dispatch runs one completion per role concurrently. results[i] belongs to o.roles[i].
func (o *Orchestrator) dispatch(ctx context.Context, text string, memories []string, reqContext map[string]interface{}) []string {
	results := make([]string, len(o.roles))

	var g errgroup.Group
	for i, role := range o.roles {
		i, role := i, role
		g.Go(func() error {
			results[i] = o.complete(ctx, role, text, memories, reqContext)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// complete isolates a single role so a panic becomes that role's text.
func (o *Orchestrator) complete(ctx context.Context, role Role, text string, memories []string, reqContext map[string]interface{}) (result string) {
	defer func() {
		if r := recover(); r != nil {
			logger := tracing.LoggerFromContext(ctx, o.logger)
			logger.Error().
				Str("role", role.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Agent role panicked")
			result = fmt.Sprintf("[%s Error: %v]", role.ID, r)
		}
	}()

	return o.client.Complete(ctx, agent.Request{
		Role:     role.ID,
		Query:    text,
		Memories: memories,
		Context:  reqContext,
	})
}
