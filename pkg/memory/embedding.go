package memory

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	chromem "github.com/philippgille/chromem-go"
)

// Embedder generates a vector embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder implements Embedder with the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder. baseURL is optional.
func NewOpenAIEmbedder(apiKey, model, baseURL string) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response has no data")
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// EmbeddingRanker orders entries by cosine similarity to the query.
// Vectors are cached by text so repeated entries are embedded once.
type EmbeddingRanker struct {
	embedder Embedder
	cache    *ristretto.Cache
}

// NewEmbeddingRanker wraps embedder with a bounded vector cache.
func NewEmbeddingRanker(embedder Embedder) (*EmbeddingRanker, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	return &EmbeddingRanker{embedder: embedder, cache: cache}, nil
}

func (r *EmbeddingRanker) Name() string { return RankerEmbedding }

// Rank builds a throwaway collection over the non-blank entries and queries it.
// Entries are at most a few hundred per user, so no index is kept between calls.
func (r *EmbeddingRanker) Rank(ctx context.Context, query string, entries []string, topK int) ([]string, error) {
	if topK <= 0 || len(entries) == 0 {
		return []string{}, nil
	}
	if strings.TrimSpace(query) == "" {
		return MostRecent(entries, topK), nil
	}

	db := chromem.NewDB()
	col, err := db.CreateCollection("memories", nil, r.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		docs = append(docs, chromem.Document{ID: strconv.Itoa(i), Content: entry})
	}
	if len(docs) == 0 {
		return MostRecent(entries, topK), nil
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("add documents: %w", err)
	}

	n := topK
	if n > col.Count() {
		n = col.Count()
	}

	results, err := col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]string, 0, len(results))
	for _, result := range results {
		i, err := strconv.Atoi(result.ID)
		if err != nil || i < 0 || i >= len(entries) {
			continue
		}
		out = append(out, entries[i])
	}
	return out, nil
}

// Close releases the vector cache.
func (r *EmbeddingRanker) Close() {
	r.cache.Close()
}

func (r *EmbeddingRanker) embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := r.cache.Get(text); ok {
		if vector, ok := cached.([]float32); ok {
			return vector, nil
		}
	}

	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// chromem keeps the slice it is handed; the cache holds its own copy.
	stored := make([]float32, len(vector))
	copy(stored, vector)
	r.cache.Set(text, stored, int64(len(stored)*4))

	out := make([]float32, len(vector))
	copy(out, vector)
	return out, nil
}
