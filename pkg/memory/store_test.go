package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu       sync.Mutex
	data     []byte
	saves    int
	loadErr  error
	saveErr  error
	isClosed bool
}

func (b *memBackend) Name() string { return "mem" }

func (b *memBackend) Load(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.data, nil
}

func (b *memBackend) Save(ctx context.Context, document []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.data = append([]byte(nil), document...)
	b.saves++
	return nil
}

func (b *memBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isClosed = true
	return nil
}

type failingRanker struct{}

func (failingRanker) Name() string { return "failing" }

func (failingRanker) Rank(context.Context, string, []string, int) ([]string, error) {
	return nil, errors.New("ranker down")
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func createTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "memory.json")
	backend, err := NewFileBackend(path)
	require.NoError(t, err)

	s, err := NewStore(context.Background(), Config{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, path
}

func TestNewStore_RequiresBackend(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Logger: testLogger()})
	assert.Error(t, err)
}

func TestRetrieve_FewerThanTopK(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		require.NoError(t, s.Upsert(ctx, "u1", text))
	}

	got, err := s.Retrieve(ctx, "u1", "anything", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, got)

	got, err = s.Retrieve(ctx, "u1", "anything", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, got)
}

func TestRetrieve_UnknownUser(t *testing.T) {
	s, _ := createTestStore(t)

	got, err := s.Retrieve(context.Background(), "nobody", "query", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrieve_NonPositiveTopK(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "u1", "hello"))

	got, err := s.Retrieve(ctx, "u1", "", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpsert_CapsLogAtMaxEntries(t *testing.T) {
	s, path := createTestStore(t)
	ctx := context.Background()

	const total = 205
	for i := 0; i < total; i++ {
		require.NoError(t, s.Upsert(ctx, "u1", fmt.Sprintf("msg-%d", i)))
	}

	log := s.Log("u1")
	require.Len(t, log, DefaultMaxEntries)
	assert.Equal(t, "msg-5", log[0])
	assert.Equal(t, "msg-204", log[len(log)-1])

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string][]string
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, log, doc["u1"])
}

func TestUpsert_DocumentLayout(t *testing.T) {
	s, path := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "u1", "a"))
	require.NoError(t, s.Upsert(ctx, "u2", "b"))
	require.NoError(t, s.Upsert(ctx, "u1", "c"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string][]string
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string][]string{
		"u1": {"a", "c"},
		"u2": {"b"},
	}, doc)

	leftovers, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temporary file should not remain")
}

func TestUpsert_PersistenceFailureLeavesStateUnchanged(t *testing.T) {
	backend := &memBackend{}
	s, err := NewStore(context.Background(), Config{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "u1", "kept"))
	saved := append([]byte(nil), backend.data...)

	backend.saveErr = errors.New("disk full")
	err = s.Upsert(ctx, "u1", "lost")
	require.Error(t, err)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "upsert", perr.Op)
	assert.Equal(t, "u1", perr.UserID)
	assert.ErrorIs(t, err, backend.saveErr)

	assert.Equal(t, []string{"kept"}, s.Log("u1"))
	assert.Equal(t, saved, backend.data)
}

func TestNewStore_LoadsExistingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"u1": ["old", "newer"]}`), 0644))

	backend, err := NewFileBackend(path)
	require.NoError(t, err)
	s, err := NewStore(context.Background(), Config{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Retrieve(context.Background(), "u1", "", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"newer", "old"}, got)
}

func TestNewStore_MalformedDocumentStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	backend, err := NewFileBackend(path)
	require.NoError(t, err)
	s, err := NewStore(context.Background(), Config{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, s.Users())
}

func TestNewStore_BackendReadFailure(t *testing.T) {
	backend := &memBackend{loadErr: errors.New("permission denied")}

	_, err := NewStore(context.Background(), Config{Backend: backend, Logger: testLogger()})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.loadErr)
}

func TestNewStore_TrimsOversizedLogs(t *testing.T) {
	backend := &memBackend{data: []byte(`{"u1": ["1", "2", "3", "4", "5"], "u2": []}`)}

	s, err := NewStore(context.Background(), Config{Backend: backend, MaxEntries: 3, Logger: testLogger()})
	require.NoError(t, err)

	assert.Equal(t, []string{"3", "4", "5"}, s.Log("u1"))
	assert.Equal(t, []string{"u1"}, s.Users())
}

func TestNewStore_ClampsMaxEntries(t *testing.T) {
	s, err := NewStore(context.Background(), Config{Backend: &memBackend{}, MaxEntries: 500, Logger: testLogger()})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < DefaultMaxEntries+20; i++ {
		require.NoError(t, s.Upsert(ctx, "u1", fmt.Sprintf("q%d", i)))
	}

	log := s.Log("u1")
	require.Len(t, log, DefaultMaxEntries)
	assert.Equal(t, "q20", log[0])
}

func TestRetrieve_RankerFailureFallsBackToRecency(t *testing.T) {
	backend := &memBackend{}
	s, err := NewStore(context.Background(), Config{
		Backend: backend,
		Ranker:  failingRanker{},
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "u1", "a"))
	require.NoError(t, s.Upsert(ctx, "u1", "b"))

	got, err := s.Retrieve(ctx, "u1", "query", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, got)
}

func TestForget(t *testing.T) {
	backend := &memBackend{}
	s, err := NewStore(context.Background(), Config{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "u1", "a"))
	require.NoError(t, s.Upsert(ctx, "u2", "b"))
	saves := backend.saves

	require.NoError(t, s.Forget(ctx, "u1"))
	assert.Equal(t, []string{"u2"}, s.Users())
	assert.JSONEq(t, `{"u2": ["b"]}`, string(backend.data))

	t.Run("unknown user is a no-op", func(t *testing.T) {
		require.NoError(t, s.Forget(ctx, "ghost"))
		assert.Equal(t, saves+1, backend.saves)
	})

	t.Run("failed write keeps the user", func(t *testing.T) {
		backend.saveErr = errors.New("read-only")
		err := s.Forget(ctx, "u2")

		var perr *PersistenceError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "forget", perr.Op)
		assert.Equal(t, []string{"b"}, s.Log("u2"))
	})
}

func TestReload(t *testing.T) {
	backend := &memBackend{}
	s, err := NewStore(context.Background(), Config{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "u1", "a"))

	backend.data = []byte(`{"u1": ["edited"], "u3": ["x"]}`)
	require.NoError(t, s.Reload(ctx))
	assert.Equal(t, []string{"edited"}, s.Log("u1"))
	assert.Equal(t, []string{"u1", "u3"}, s.Users())

	backend.data = []byte(`[]`)
	assert.Error(t, s.Reload(ctx))
	assert.Equal(t, []string{"edited"}, s.Log("u1"), "malformed reload keeps state")
}

func TestClosedStore(t *testing.T) {
	backend := &memBackend{}
	s, err := NewStore(context.Background(), Config{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Close())
	assert.True(t, backend.isClosed)
	require.NoError(t, s.Close())

	_, err = s.Retrieve(ctx, "u1", "", 5)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Upsert(ctx, "u1", "a"), ErrStoreClosed)
	assert.ErrorIs(t, s.Forget(ctx, "u1"), ErrStoreClosed)
	assert.ErrorIs(t, s.Reload(ctx), ErrStoreClosed)

	_, err = s.Document()
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestConcurrentUpserts(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := 0; u < 5; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", u)
			for i := 0; i < 10; i++ {
				assert.NoError(t, s.Upsert(ctx, userID, fmt.Sprintf("m%d", i)))
				_, err := s.Retrieve(ctx, userID, "", 5)
				assert.NoError(t, err)
			}
		}(u)
	}
	wg.Wait()

	assert.Len(t, s.Users(), 5)
	for _, userID := range s.Users() {
		assert.Len(t, s.Log(userID), 10)
	}
}

func TestLogReturnsCopy(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "u1", "a"))

	log := s.Log("u1")
	log[0] = "mutated"

	assert.Equal(t, []string{"a"}, s.Log("u1"))
}
