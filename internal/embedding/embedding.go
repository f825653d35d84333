package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"document-qa/internal/config"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
)

const defaultBatchSize = 32

// Embedder maps text to vectors with one fixed model. Vectors returned to callers
// are never shared with the cache.
type Embedder struct {
	model string
	impl  *embeddings.EmbedderImpl
	cache *lru.Cache[string, []float32]
}

type options struct {
	batchSize int
	cacheSize int
}

type Option func(*options)

func WithBatchSize(n int) Option { return func(o *options) { o.batchSize = n } }

// WithCacheSize enables an LRU cache of single-text embeddings. 0 disables it.
func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

// New creates an Embedder for the configured provider. The provider client is
// created on the first call.
func New(cfg config.LLMConfig) (*Embedder, error) {
	return Wrap(llmservice.NewLazyModel(cfg), ModelID(cfg),
		WithBatchSize(cfg.BatchSize), WithCacheSize(cfg.CacheSize))
}

// ModelID is the identifier recorded in index manifests.
func ModelID(cfg config.LLMConfig) string {
	return cfg.Provider + ":" + cfg.Model
}

// Wrap builds an Embedder over any langchaingo embedding client.
func Wrap(client embeddings.EmbedderClient, model string, opts ...Option) (*Embedder, error) {
	o := options{batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize <= 0 {
		o.batchSize = defaultBatchSize
	}

	impl, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(o.batchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	e := &Embedder{model: model, impl: impl}
	if o.cacheSize > 0 {
		e.cache, err = lru.New[string, []float32](o.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
	}
	return e, nil
}

func (e *Embedder) Model() string { return e.model }

// Embed returns the vector of a single non-empty text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", models.ErrEmbeddingService)
	}

	var key string
	if e.cache != nil {
		key = cacheKey(text)
		if v, ok := e.cache.Get(key); ok {
			return slices.Clone(v), nil
		}
	}

	vec, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingService, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: provider returned an empty vector", models.ErrEmbeddingService)
	}

	if e.cache != nil {
		e.cache.Add(key, slices.Clone(vec))
	}
	return vec, nil
}

// EmbedMany returns one vector per text, in input order. Empty input is a no-op.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w: empty text at position %d", models.ErrEmbeddingService, i)
		}
	}

	vecs, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingService, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", models.ErrEmbeddingService, len(vecs), len(texts))
	}
	log.Debug().Str("model", e.model).Int("texts", len(texts)).Msg("embedded documents")
	return vecs, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
