package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Krish-357/Academic-Advisor/pkg/agent"
	"github.com/Krish-357/Academic-Advisor/pkg/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	memories    []string
	retrieveErr error
	upsertErr   error
	upserts     []string
	lastTopK    int
}

func (s *fakeStore) Retrieve(_ context.Context, _, _ string, topK int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTopK = topK
	if s.retrieveErr != nil {
		return nil, s.retrieveErr
	}
	return s.memories, nil
}

func (s *fakeStore) Upsert(_ context.Context, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, text)
	return s.upsertErr
}

type funcCompleter func(ctx context.Context, req agent.Request) string

func (f funcCompleter) Complete(ctx context.Context, req agent.Request) string { return f(ctx, req) }

func echoCompleter() funcCompleter {
	return func(_ context.Context, req agent.Request) string {
		return req.Role + ": " + req.Query
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func newTestOrchestrator(t *testing.T, store MemoryStore, client Completer) *Orchestrator {
	t.Helper()
	o, err := New(Config{Store: store, Client: client, Logger: testLogger()})
	require.NoError(t, err)
	return o
}

func TestHandle_AggregatesRoles(t *testing.T) {
	store := &fakeStore{memories: []string{"earlier question"}}
	o := newTestOrchestrator(t, store, echoCompleter())

	resp, err := o.Handle(context.Background(), "u1", "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"academic": "academic_advisor: hello",
		"career":   "career_counselor: hello",
	}, resp.Responses)
	assert.Equal(t, []string{"earlier question"}, resp.Memories)
	assert.Equal(t, DefaultTopK, store.lastTopK)
	assert.Equal(t, []string{"hello"}, store.upserts)
}

func TestNew_ClampsTopK(t *testing.T) {
	store := &fakeStore{}
	o, err := New(Config{Store: store, Client: echoCompleter(), TopK: 50, Logger: testLogger()})
	require.NoError(t, err)

	_, err = o.Handle(context.Background(), "u1", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, store.lastTopK)
}

func TestHandle_PersistenceFailureDoesNotChangeResponse(t *testing.T) {
	ok := &fakeStore{memories: []string{"m"}}
	failing := &fakeStore{memories: []string{"m"}, upsertErr: &memory.PersistenceError{Op: "upsert", UserID: "u1", Err: errors.New("disk full")}}

	want, err := newTestOrchestrator(t, ok, echoCompleter()).Handle(context.Background(), "u1", "q", nil)
	require.NoError(t, err)

	got, err := newTestOrchestrator(t, failing, echoCompleter()).Handle(context.Background(), "u1", "q", nil)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, []string{"q"}, failing.upserts)
}

func TestHandle_OneRoleFailing(t *testing.T) {
	client := funcCompleter(func(_ context.Context, req agent.Request) string {
		if req.Role == "career_counselor" {
			return "[Gemini API Error 500] internal"
		}
		return "real answer"
	})
	o := newTestOrchestrator(t, &fakeStore{}, client)

	resp, err := o.Handle(context.Background(), "u1", "q", nil)
	require.NoError(t, err)

	require.Len(t, resp.Responses, 2)
	assert.Equal(t, "real answer", resp.Responses["academic"])
	assert.Equal(t, "[Gemini API Error 500] internal", resp.Responses["career"])
}

func TestHandle_RolePanicIsIsolated(t *testing.T) {
	client := funcCompleter(func(_ context.Context, req agent.Request) string {
		if req.Role == "academic_advisor" {
			panic("nil provider")
		}
		return "career answer"
	})
	o := newTestOrchestrator(t, &fakeStore{}, client)

	resp, err := o.Handle(context.Background(), "u1", "q", nil)
	require.NoError(t, err)

	require.Len(t, resp.Responses, 2)
	assert.Equal(t, "career answer", resp.Responses["career"])
	assert.Contains(t, resp.Responses["academic"], "nil provider")
}

func TestHandle_RolesRunConcurrently(t *testing.T) {
	var mu sync.Mutex
	started := 0
	release := make(chan struct{})

	client := funcCompleter(func(_ context.Context, req agent.Request) string {
		mu.Lock()
		started++
		if started == 2 {
			close(release)
		}
		mu.Unlock()

		select {
		case <-release:
			return req.Role
		case <-time.After(5 * time.Second):
			return "sequential"
		}
	})
	o := newTestOrchestrator(t, &fakeStore{}, client)

	resp, err := o.Handle(context.Background(), "u1", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "academic_advisor", resp.Responses["academic"])
	assert.Equal(t, "career_counselor", resp.Responses["career"])
}

func TestHandle_RetrievalFailurePropagates(t *testing.T) {
	store := &fakeStore{retrieveErr: memory.ErrStoreClosed}
	o := newTestOrchestrator(t, store, echoCompleter())

	resp, err := o.Handle(context.Background(), "u1", "q", nil)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, memory.ErrStoreClosed)
	assert.Empty(t, store.upserts)
}

func TestHandle_RejectsEmptyUser(t *testing.T) {
	o := newTestOrchestrator(t, &fakeStore{}, echoCompleter())

	for _, userID := range []string{"", "   "} {
		_, err := o.Handle(context.Background(), userID, "q", nil)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestHandle_PassesContext(t *testing.T) {
	var mu sync.Mutex
	var seen []map[string]interface{}
	client := funcCompleter(func(_ context.Context, req agent.Request) string {
		mu.Lock()
		seen = append(seen, req.Context)
		mu.Unlock()
		return "ok"
	})
	o := newTestOrchestrator(t, &fakeStore{}, client)

	_, err := o.Handle(context.Background(), "u1", "q", map[string]interface{}{"year": 2})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	for _, c := range seen {
		assert.Equal(t, 2, c["year"])
	}
}

func TestHandle_OfflineEndToEnd(t *testing.T) {
	ctx := context.Background()

	backend, err := memory.NewFileBackend(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)
	store, err := memory.NewStore(ctx, memory.Config{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	defer store.Close()

	provider, err := agent.NewProvider(agent.ProviderConfig{})
	require.NoError(t, err)
	client, err := agent.NewClient(agent.ClientConfig{Provider: provider, Logger: testLogger()})
	require.NoError(t, err)

	o := newTestOrchestrator(t, store, client)

	first, err := o.Handle(ctx, "u1", "What major should I pick?", map[string]interface{}{})
	require.NoError(t, err)

	require.Len(t, first.Responses, 2)
	for key, text := range first.Responses {
		assert.True(t, strings.HasPrefix(text, "(mock)"), "%s: %s", key, text)
	}
	assert.Equal(t, "(mock) Academic advice for: What major should I pick?\nBased on memories: []", first.Responses["academic"])
	assert.Empty(t, first.Memories)

	second, err := o.Handle(ctx, "u1", "Which internships fit?", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"What major should I pick?"}, second.Memories)
	assert.Equal(t, "(mock) Career advice for: Which internships fit?\nBased on memories: [\"What major should I pick?\"]", second.Responses["career"])
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing store", cfg: Config{Client: echoCompleter()}},
		{name: "missing client", cfg: Config{Store: &fakeStore{}}},
		{name: "empty key", cfg: Config{Store: &fakeStore{}, Client: echoCompleter(), Roles: []Role{{ID: "a"}}}},
		{name: "reserved key", cfg: Config{Store: &fakeStore{}, Client: echoCompleter(), Roles: []Role{{ID: "a", Key: "memories"}}}},
		{name: "duplicate key", cfg: Config{Store: &fakeStore{}, Client: echoCompleter(), Roles: []Role{{ID: "a", Key: "x"}, {ID: "b", Key: "x"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestAgentResponse_JSON(t *testing.T) {
	resp := AgentResponse{Responses: map[string]string{"academic": "a", "career": "c"}}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"academic": "a", "career": "c", "memories": []}`, string(data))

	var decoded AgentResponse
	require.NoError(t, json.Unmarshal([]byte(`{"academic": "a", "memories": ["m1"], "extra": 3}`), &decoded))
	assert.Equal(t, map[string]string{"academic": "a"}, decoded.Responses)
	assert.Equal(t, []string{"m1"}, decoded.Memories)
}
