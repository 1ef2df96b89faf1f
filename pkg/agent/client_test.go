package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls    atomic.Int64
	generate func(ctx context.Context, call int, req GenerateRequest) (string, error)
}

func (p *fakeProvider) Name() string        { return "fake" }
func (p *fakeProvider) DisplayName() string { return "Fake" }

func (p *fakeProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	call := int(p.calls.Add(1))
	return p.generate(ctx, call, req)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func newTestClient(t *testing.T, provider Provider, policy Policy) (*Client, *sleepRecorder) {
	t.Helper()
	c, err := NewClient(ClientConfig{Provider: provider, Policy: policy, Logger: testLogger()})
	require.NoError(t, err)
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

// geminiSequence serves the given status codes in order, then 200s.
func geminiSequence(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		status := http.StatusOK
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Consider computer science."}]}}]}`))
			return
		}
		_, _ = w.Write([]byte(http.StatusText(status)))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestComplete_RateLimitedTwiceThenSucceeds(t *testing.T) {
	server, hits := geminiSequence(t, http.StatusTooManyRequests, http.StatusTooManyRequests)
	provider := NewGeminiProvider("test-key", "", server.URL, server.Client())
	c, rec := newTestClient(t, provider, Policy{})

	got := c.Complete(context.Background(), Request{Role: "academic_advisor", Query: "What major should I pick?"})

	assert.Equal(t, "Consider computer science.", got)
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestComplete_RetriesExhausted(t *testing.T) {
	server, hits := geminiSequence(t, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests)
	provider := NewGeminiProvider("test-key", "", server.URL, server.Client())
	c, rec := newTestClient(t, provider, Policy{})

	got := c.Complete(context.Background(), Request{Role: "career_counselor", Query: "q"})

	assert.Equal(t, "Gemini service is currently busy. Please try again in a few seconds.", got)
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays, "no wait after the final attempt")
}

func TestComplete_StatusErrorIsNotRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	provider := NewGeminiProvider("test-key", "", server.URL, server.Client())
	c, rec := newTestClient(t, provider, Policy{})

	got := c.Complete(context.Background(), Request{Role: "academic_advisor", Query: "q"})

	assert.Equal(t, "[Gemini API Error 500] boom", got)
	assert.Empty(t, rec.delays)
}

func TestComplete_TransportErrorIsNotRetried(t *testing.T) {
	provider := &fakeProvider{generate: func(context.Context, int, GenerateRequest) (string, error) {
		return "", errors.New("connection refused")
	}}
	c, rec := newTestClient(t, provider, Policy{})

	got := c.Complete(context.Background(), Request{Role: "academic_advisor", Query: "q"})

	assert.Equal(t, "[Fake Request Error: connection refused]", got)
	assert.Equal(t, int64(1), provider.calls.Load())
	assert.Empty(t, rec.delays)
}

func TestComplete_TimedOutAttemptIsRetried(t *testing.T) {
	provider := &fakeProvider{generate: func(ctx context.Context, call int, _ GenerateRequest) (string, error) {
		if call == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "second try", nil
	}}
	c, rec := newTestClient(t, provider, Policy{AttemptTimeout: 20 * time.Millisecond})

	got := c.Complete(context.Background(), Request{Role: "academic_advisor", Query: "q"})

	assert.Equal(t, "second try", got)
	assert.Equal(t, int64(2), provider.calls.Load())
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

func TestComplete_CustomPolicy(t *testing.T) {
	provider := &fakeProvider{generate: func(context.Context, int, GenerateRequest) (string, error) {
		return "", &RateLimitError{Provider: "fake"}
	}}
	c, rec := newTestClient(t, provider, Policy{MaxAttempts: 4, BackoffBase: 10 * time.Millisecond})

	got := c.Complete(context.Background(), Request{Role: "academic_advisor", Query: "q"})

	assert.Equal(t, "Fake service is currently busy. Please try again in a few seconds.", got)
	assert.Equal(t, int64(4), provider.calls.Load())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, rec.delays)
}

func TestComplete_CancelDuringBackoff(t *testing.T) {
	provider := &fakeProvider{generate: func(context.Context, int, GenerateRequest) (string, error) {
		return "", &RateLimitError{Provider: "fake"}
	}}
	c, err := NewClient(ClientConfig{
		Provider: provider,
		Policy:   Policy{BackoffBase: time.Hour},
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan string, 1)
	go func() { done <- c.Complete(ctx, Request{Role: "academic_advisor", Query: "q"}) }()

	select {
	case got := <-done:
		assert.Equal(t, "[Fake Request Error: context canceled]", got)
		assert.Equal(t, int64(1), provider.calls.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("backoff wait was not cancelled")
	}
}

func TestComplete_PassesComposedPrompt(t *testing.T) {
	var seen GenerateRequest
	provider := &fakeProvider{generate: func(_ context.Context, _ int, req GenerateRequest) (string, error) {
		seen = req
		return "ok", nil
	}}
	c, _ := newTestClient(t, provider, Policy{})

	c.Complete(context.Background(), Request{
		Role:     "career_counselor",
		Query:    "Which jobs?",
		Memories: []string{"likes math"},
	})

	assert.Contains(t, seen.Prompt, "You are a career counselor.\nStudent context:\nlikes math\n\nUser question: Which jobs?")
	assert.Equal(t, "Career", seen.Label)

	c.Complete(context.Background(), Request{Role: "unknown", Query: "raw"})
	assert.Equal(t, "raw", seen.Prompt)
}

func TestComplete_Offline(t *testing.T) {
	provider, err := NewProvider(ProviderConfig{Name: "gemini"})
	require.NoError(t, err)
	c, _ := newTestClient(t, provider, Policy{})
	assert.True(t, c.Offline())

	got := c.Complete(context.Background(), Request{Role: "academic_advisor", Query: "What major should I pick?"})
	assert.Equal(t, "(mock) Academic advice for: What major should I pick?\nBased on memories: []", got)

	got = c.Complete(context.Background(), Request{
		Role:     "career_counselor",
		Query:    "Next steps?",
		Memories: []string{"What major should I pick?"},
	})
	assert.Equal(t, "(mock) Career advice for: Next steps?\nBased on memories: [\"What major should I pick?\"]", got)
}

func TestComplete_RateLimiter(t *testing.T) {
	provider := &fakeProvider{generate: func(context.Context, int, GenerateRequest) (string, error) {
		return "ok", nil
	}}
	c, err := NewClient(ClientConfig{Provider: provider, RateLimit: 1000, Burst: 1, Logger: testLogger()})
	require.NoError(t, err)
	require.NotNil(t, c.limiter)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "ok", c.Complete(context.Background(), Request{Role: "academic_advisor", Query: "q"}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "[Fake Request Error: context canceled]", c.Complete(ctx, Request{Role: "academic_advisor", Query: "q"}))
}

func TestNewClient_RequiresProvider(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
