package rag

import (
	"context"

	"document-qa/internal/models"
)

// Embedder turns text into vectors. Indexing and querying must use the same one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Index is a searchable set of embedded chunks.
type Index interface {
	// Search returns at most k results ordered by descending similarity, ties by
	// ascending chunk Seq. k <= 0 uses the index default.
	Search(ctx context.Context, vector []float32, k int) ([]models.SearchResult, error)
	Count() int
	Manifest() models.IndexManifest
}

// IndexStore builds indexes and persists them.
type IndexStore interface {
	// Build embeds every chunk and returns a fresh index. Empty input fails with
	// models.ErrNoChunks.
	Build(ctx context.Context, chunks []models.Chunk) (Index, error)
	Save(ctx context.Context, index Index) error
	// Load fails with models.ErrIndexNotFound, models.ErrIndexCorrupt or
	// models.ErrEmbeddingModelMismatch.
	Load(ctx context.Context) (Index, error)
}
