package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Krish-357/Academic-Advisor/internal/observability"
	"github.com/Krish-357/Academic-Advisor/internal/tracing"
	"github.com/Krish-357/Academic-Advisor/pkg/prompt"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const tracerName = "advisor.agent"

// ClientConfig holds completion client configuration.
type ClientConfig struct {
	Provider Provider
	Composer *prompt.Composer // Optional, defaults to the built-in roles
	Policy   Policy

	// RateLimit caps outgoing attempts per second across all roles; zero disables it.
	RateLimit float64
	Burst     int

	Logger zerolog.Logger
}

// Client composes prompts and calls the provider with bounded retries.
type Client struct {
	provider Provider
	composer *prompt.Composer
	policy   Policy
	limiter  *rate.Limiter
	logger   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a completion client
func NewClient(cfg ClientConfig) (*Client, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if cfg.Composer == nil {
		cfg.Composer = prompt.NewComposer()
	}

	c := &Client{
		provider: cfg.Provider,
		composer: cfg.Composer,
		policy:   cfg.Policy.withDefaults(),
		logger:   cfg.Logger,
		sleep:    sleepContext,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return c, nil
}

// ProviderName returns the selected provider id.
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Offline reports whether completions come from the offline responder.
func (c *Client) Offline() bool {
	return c.provider.Name() == ProviderOffline
}

// Complete returns generated text for the request. It never returns an error:
// failures come back as annotated strings and exhausted retries as a busy message.
func (c *Client) Complete(ctx context.Context, req Request) string {
	ctx = tracing.WithRole(ctx, req.Role)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.complete",
		attribute.String("role", req.Role),
		attribute.String("provider", c.provider.Name()),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, c.logger)
	start := time.Now()
	defer func() { observability.RecordCompletion(c.provider.Name(), time.Since(start)) }()

	genReq := GenerateRequest{
		Prompt:   c.composer.Compose(req.Role, req.Query, req.Memories, req.Context),
		Role:     req.Role,
		Label:    c.composer.Label(req.Role),
		Query:    req.Query,
		Memories: req.Memories,
	}
	display := c.provider.DisplayName()

	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return requestError(display, err)
			}
		}

		text, err := c.attempt(ctx, genReq)
		if err == nil {
			observability.RecordCompletionAttempt(c.provider.Name(), observability.OutcomeSuccess)
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return text
		}

		var rateErr *RateLimitError
		var statusErr *StatusError
		switch {
		case ctx.Err() != nil:
			observability.RecordCompletionAttempt(c.provider.Name(), observability.OutcomeError)
			span.RecordError(ctx.Err())
			return requestError(display, ctx.Err())
		case errors.As(err, &rateErr):
			observability.RecordCompletionAttempt(c.provider.Name(), observability.OutcomeRateLimited)
		case errors.Is(err, context.DeadlineExceeded):
			observability.RecordCompletionAttempt(c.provider.Name(), observability.OutcomeTimeout)
		case errors.As(err, &statusErr):
			observability.RecordCompletionAttempt(c.provider.Name(), observability.OutcomeError)
			span.RecordError(err)
			logger.Warn().Int("status", statusErr.Code).Msg("Provider returned an error status")
			return fmt.Sprintf("[%s API Error %d] %s", display, statusErr.Code, statusErr.Body)
		default:
			observability.RecordCompletionAttempt(c.provider.Name(), observability.OutcomeError)
			span.RecordError(err)
			logger.Warn().Err(err).Msg("Provider request failed")
			return requestError(display, err)
		}

		// Last attempt - don't wait
		if attempt == c.policy.MaxAttempts-1 {
			break
		}

		delay := c.policy.BackoffBase * time.Duration(1<<attempt)
		logger.Info().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after rate limit")
		observability.RecordBackoff(c.provider.Name())

		if err := c.sleep(ctx, delay); err != nil {
			return requestError(display, err)
		}
	}

	logger.Warn().Int("attempts", c.policy.MaxAttempts).Msg("Completion retries exhausted")
	return fmt.Sprintf("%s service is currently busy. Please try again in a few seconds.", display)
}

// attempt runs one provider call under the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, req GenerateRequest) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.AttemptTimeout)
	defer cancel()

	text, err := c.provider.Generate(attemptCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("attempt timed out after %s: %w", c.policy.AttemptTimeout, context.DeadlineExceeded)
	}
	return text, err
}

func requestError(display string, err error) string {
	return fmt.Sprintf("[%s Request Error: %v]", display, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
