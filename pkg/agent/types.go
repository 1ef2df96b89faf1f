package agent

import (
	"fmt"
	"time"
)

// Request is one role's completion input.
type Request struct {
	Role     string
	Query    string
	Memories []string
	Context  map[string]interface{}
}

// GenerateRequest is what a provider receives for a single attempt.
// Providers that call a model only need Prompt; the rest feeds the offline responder.
type GenerateRequest struct {
	Prompt   string
	Role     string
	Label    string
	Query    string
	Memories []string
}

// Policy bounds retries for one completion.
type Policy struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 3 attempts, 1s base backoff (1s, 2s) and a 30s per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BackoffBase:    time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// RateLimitError signals that the provider asked the caller to slow down.
type RateLimitError struct {
	Provider string
	Body     string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Body)
}

// StatusError is a non-success response other than a rate limit.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
}
