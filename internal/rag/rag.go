package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"document-qa/internal/chunker"
	"document-qa/internal/models"
	"document-qa/internal/parser"
)

// Pipeline runs load -> chunk -> embed -> index for documents and
// embed -> search -> compose for questions. It holds no index itself.
type Pipeline struct {
	loader   parser.Loader
	chunker  *chunker.Chunker
	embedder Embedder
	store    IndexStore
	composer *Composer
	topK     int
}

func NewPipeline(loader parser.Loader, ch *chunker.Chunker, embedder Embedder, store IndexStore, composer *Composer, topK int) *Pipeline {
	if topK <= 0 {
		topK = models.DefaultTopK
	}
	return &Pipeline{
		loader:   loader,
		chunker:  ch,
		embedder: embedder,
		store:    store,
		composer: composer,
		topK:     topK,
	}
}

type IngestReport struct {
	Source   string
	Pages    int
	Chunks   int
	Duration time.Duration
}

// Prepare loads and chunks a document without embedding it.
func (p *Pipeline) Prepare(path string) ([]models.Page, []models.Chunk, error) {
	pages, err := p.loader.Load(path)
	if err != nil {
		stageFailed(stageLoad)
		return nil, nil, err
	}
	chunks, err := p.chunker.Split(pages)
	if err != nil {
		stageFailed(stageChunk)
		return nil, nil, err
	}
	return pages, chunks, nil
}

// Ingest builds a new index for the document at path and persists it.
func (p *Pipeline) Ingest(ctx context.Context, path string) (Index, *IngestReport, error) {
	start := time.Now()
	pages, chunks, err := p.Prepare(path)
	if err != nil {
		return nil, nil, err
	}

	index, err := p.store.Build(ctx, chunks)
	if err != nil {
		stageFailed(stageIndex)
		return nil, nil, err
	}
	if err := p.store.Save(ctx, index); err != nil {
		stageFailed(stagePersist)
		return nil, nil, fmt.Errorf("failed to persist index: %w", err)
	}

	report := &IngestReport{
		Source:   pages[0].Source,
		Pages:    len(pages),
		Chunks:   len(chunks),
		Duration: time.Since(start),
	}
	ingestDuration.Observe(report.Duration.Seconds())
	chunksIndexed.Add(float64(report.Chunks))
	log.Info().Str("source", report.Source).Int("pages", report.Pages).Int("chunks", report.Chunks).
		Dur("duration", report.Duration).Msg("document ingested")
	return index, report, nil
}

// Open loads the persisted index.
func (p *Pipeline) Open(ctx context.Context) (Index, error) {
	index, err := p.store.Load(ctx)
	if err != nil {
		stageFailed(stageOpen)
		return nil, err
	}
	return index, nil
}

// Retrieve embeds query with the indexing embedder and searches index.
func (p *Pipeline) Retrieve(ctx context.Context, index Index, query string, k int) ([]models.SearchResult, error) {
	if index == nil {
		return nil, models.ErrNoDocument
	}
	if k <= 0 {
		k = p.topK
	}
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		stageFailed(stageRetrieve)
		return nil, err
	}
	results, err := index.Search(ctx, vec, k)
	if err != nil {
		stageFailed(stageRetrieve)
		return nil, err
	}
	return results, nil
}

// Ask retrieves the top chunks for query and composes an answer from them.
func (p *Pipeline) Ask(ctx context.Context, index Index, query string) (*models.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.ErrEmptyQuestion
	}
	if index == nil {
		return nil, models.ErrNoDocument
	}

	start := time.Now()
	results, err := p.Retrieve(ctx, index, query, p.topK)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}
	text, err := p.composer.Answer(ctx, query, chunks)
	if err != nil {
		stageFailed(stageCompose)
		return nil, err
	}

	queryDuration.Observe(time.Since(start).Seconds())
	log.Debug().Str("query", query).Int("sources", len(results)).Dur("duration", time.Since(start)).Msg("question answered")
	return &models.Answer{Question: query, Text: text, Sources: results}, nil
}
