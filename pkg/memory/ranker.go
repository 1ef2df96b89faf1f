package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Ranker orders a user's entries for a query and returns at most topK of them.
// Implementations must not modify entries.
type Ranker interface {
	Name() string
	Rank(ctx context.Context, query string, entries []string, topK int) ([]string, error)
}

// RecencyRanker returns the newest entries first. It never fails.
type RecencyRanker struct{}

func (RecencyRanker) Name() string { return "recency" }

func (RecencyRanker) Rank(_ context.Context, _ string, entries []string, topK int) ([]string, error) {
	return MostRecent(entries, topK), nil
}

// MostRecent returns the last topK entries in reverse insertion order.
func MostRecent(entries []string, topK int) []string {
	if topK <= 0 || len(entries) == 0 {
		return []string{}
	}
	if topK > len(entries) {
		topK = len(entries)
	}

	out := make([]string, 0, topK)
	for i := len(entries) - 1; i >= len(entries)-topK; i-- {
		out = append(out, entries[i])
	}
	return out
}

// Ranker kinds accepted by SelectRanker.
const (
	RankerRecency   = "recency"
	RankerEmbedding = "embedding"
)

// probeText is embedded once at startup to confirm the embedder works.
const probeText = "memory ranker probe"

// SelectRanker picks the ranker once at startup. The embedding ranker is only
// used when an embedder is configured and answers a probe request; every other
// case falls back to recency.
func SelectRanker(ctx context.Context, kind string, embedder Embedder, logger zerolog.Logger) Ranker {
	switch kind {
	case "", RankerRecency:
		return RecencyRanker{}
	case RankerEmbedding:
	default:
		logger.Warn().Str("ranker", kind).Msg("Unknown memory ranker, using recency")
		return RecencyRanker{}
	}

	if embedder == nil {
		logger.Warn().Msg("Embedding ranker requested without an embedder, using recency")
		return RecencyRanker{}
	}

	ranker, err := NewEmbeddingRanker(embedder)
	if err != nil {
		logger.Warn().Err(err).Msg("Embedding ranker unavailable, using recency")
		return RecencyRanker{}
	}

	if err := ranker.probe(ctx); err != nil {
		logger.Warn().Err(err).Msg("Embedding probe failed, using recency")
		ranker.Close()
		return RecencyRanker{}
	}

	logger.Info().Msg("Embedding ranker enabled")
	return ranker
}

func (r *EmbeddingRanker) probe(ctx context.Context) error {
	vector, err := r.embed(ctx, probeText)
	if err != nil {
		return err
	}
	if len(vector) == 0 {
		return fmt.Errorf("embedder returned an empty vector")
	}
	return nil
}
