package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Krish-357/Academic-Advisor/internal/observability"
	"github.com/Krish-357/Academic-Advisor/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxEntries bounds each user's log. Larger configured values are clamped to it.
const DefaultMaxEntries = 200

const tracerName = "advisor.memory"

// Config holds store configuration.
type Config struct {
	Backend    Backend
	Ranker     Ranker // Optional, defaults to recency ordering
	MaxEntries int
	Logger     zerolog.Logger
}

// Store is the process-wide per-user memory log.
type Store struct {
	backend    Backend
	ranker     Ranker
	maxEntries int
	logger     zerolog.Logger

	// mu covers read-modify-write of logs and the document replacement.
	// Committed slices are never mutated in place, so readers may use them after unlocking.
	mu     sync.RWMutex
	logs   map[string][]string
	closed bool
}

// NewStore loads the persisted document. A missing or malformed document
// starts an empty store; a backend read failure is returned.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Backend == nil {
		return nil, errors.New("memory backend is required")
	}
	if cfg.MaxEntries <= 0 || cfg.MaxEntries > DefaultMaxEntries {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Ranker == nil {
		cfg.Ranker = RecencyRanker{}
	}

	s := &Store{
		backend:    cfg.Backend,
		ranker:     cfg.Ranker,
		maxEntries: cfg.MaxEntries,
		logger:     cfg.Logger,
		logs:       make(map[string][]string),
	}

	data, err := cfg.Backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory document: %w", err)
	}

	logs, err := s.decode(data)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("backend", cfg.Backend.Name()).
			Msg("Memory document is malformed, starting empty")
		logs = make(map[string][]string)
	}
	s.logs = logs
	observability.SetMemoryUsers(len(logs))

	s.logger.Info().
		Str("backend", cfg.Backend.Name()).
		Str("ranker", cfg.Ranker.Name()).
		Int("users", len(logs)).
		Msg("Memory store initialized")

	return s, nil
}

// Upsert appends text to the user's log, evicts the oldest entries beyond the
// cap and persists the full document before returning.
func (s *Store) Upsert(ctx context.Context, userID, text string) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.upsert",
		attribute.String("user_id", userID),
	)
	start := time.Now()
	defer func() {
		observability.RecordMemoryUpsert(time.Since(start), err == nil)
		tracing.FinishSpan(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	current := s.logs[userID]
	next := make([]string, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, text)
	if len(next) > s.maxEntries {
		next = next[len(next)-s.maxEntries:]
	}

	logs := cloneLogs(s.logs)
	logs[userID] = next

	if err := s.persist(ctx, logs); err != nil {
		return &PersistenceError{Op: "upsert", UserID: userID, Err: err}
	}

	s.logs = logs
	observability.SetMemoryUsers(len(logs))

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Int("entries", len(next)).
		Msg("Memory stored")
	return nil
}

// Retrieve returns up to topK of the user's entries, most recent first.
// When the store has an embedding ranker it orders them by similarity to
// query instead; a ranking failure falls back to recency.
func (s *Store) Retrieve(ctx context.Context, userID, query string, topK int) (results []string, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.retrieve",
		attribute.String("user_id", userID),
		attribute.Int("top_k", topK),
	)
	start := time.Now()
	defer func() {
		observability.RecordMemoryRetrieve(time.Since(start))
		tracing.FinishSpan(span, err)
	}()

	s.mu.RLock()
	closed := s.closed
	entries := s.logs[userID]
	s.mu.RUnlock()

	if closed {
		return nil, ErrStoreClosed
	}
	if topK <= 0 || len(entries) == 0 {
		return []string{}, nil
	}

	results, rankErr := s.ranker.Rank(ctx, query, entries, topK)
	if rankErr != nil {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Warn().
			Err(rankErr).
			Str("ranker", s.ranker.Name()).
			Msg("Ranking failed, using recency order")
		observability.RecordRankerFallback(s.ranker.Name())
		results = MostRecent(entries, topK)
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// Forget deletes every entry for the user. Forgetting an unknown user is a no-op.
func (s *Store) Forget(ctx context.Context, userID string) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.forget",
		attribute.String("user_id", userID),
	)
	defer func() { tracing.FinishSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.logs[userID]; !ok {
		return nil
	}

	logs := cloneLogs(s.logs)
	delete(logs, userID)

	if err := s.persist(ctx, logs); err != nil {
		return &PersistenceError{Op: "forget", UserID: userID, Err: err}
	}

	s.logs = logs
	observability.SetMemoryUsers(len(logs))

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("user_id", userID).
		Msg("Memory forgotten")
	return nil
}

// Reload replaces the in-memory state with the backend document.
// A malformed document is reported and the current state is kept.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload memory document: %w", err)
	}
	logs, err := s.decode(data)
	if err != nil {
		return err
	}

	s.logs = logs
	observability.SetMemoryUsers(len(logs))

	s.logger.Info().Int("users", len(logs)).Msg("Memory document reloaded")
	return nil
}

// Users returns the ids of users with stored entries, sorted.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.logs))
	for userID := range s.logs {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Log returns a copy of the user's entries in insertion order.
func (s *Store) Log(userID string) []string {
	s.mu.RLock()
	entries := s.logs[userID]
	s.mu.RUnlock()

	out := make([]string, len(entries))
	copy(out, entries)
	return out
}

// Document returns the serialized form of the current state.
func (s *Store) Document() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return encode(s.logs)
}

// Close releases the backend. Further calls return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

func (s *Store) persist(ctx context.Context, logs map[string][]string) error {
	data, err := encode(logs)
	if err != nil {
		return err
	}
	return s.backend.Save(ctx, data)
}

// decode parses a document, trimming any log that exceeds the cap.
func (s *Store) decode(data []byte) (map[string][]string, error) {
	logs := make(map[string][]string)
	if len(data) == 0 {
		return logs, nil
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed memory document: %w", err)
	}

	for userID, entries := range raw {
		if len(entries) > s.maxEntries {
			entries = entries[len(entries)-s.maxEntries:]
		}
		if len(entries) > 0 {
			logs[userID] = entries
		}
	}
	return logs, nil
}

func encode(logs map[string][]string) ([]byte, error) {
	data, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memory document: %w", err)
	}
	return data, nil
}

func cloneLogs(logs map[string][]string) map[string][]string {
	out := make(map[string][]string, len(logs)+1)
	for userID, entries := range logs {
		out[userID] = entries
	}
	return out
}
