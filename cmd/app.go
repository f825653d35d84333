package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"document-qa/internal/chromemdb"
	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/embedding"
	"document-qa/internal/llmservice"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
)

// app is the wired pipeline for one process.
type app struct {
	cfg      *config.Config
	pipeline *rag.Pipeline
	bunDB    *bun.DB
}

func newApp(cfg *config.Config) (*app, error) {
	ch, err := chunker.New(chunker.Settings{
		Size:     cfg.RAG.ChunkSize,
		Overlap:  cfg.RAG.ChunkOverlap,
		Strategy: cfg.RAG.Strategy,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	a := &app{cfg: cfg}
	var store rag.IndexStore
	switch cfg.Storage.Backend {
	case config.BackendPGVector:
		sqldb, err := db.ConnectDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.bunDB = db.NewDB(sqldb, cfg.Database.Debug)
		store = db.NewStore(a.bunDB, cfg, embedder)
	default:
		store = chromemdb.NewStore(cfg, embedder)
	}

	composer := rag.NewComposer(
		llmservice.NewLazyModel(cfg.InferenceLLM),
		rag.WithPersona(cfg.RAG.Persona),
		rag.WithTemperature(cfg.InferenceLLM.Temperature),
	)
	a.pipeline = rag.NewPipeline(parser.FileLoader{}, ch, embedder, store, composer, cfg.RAG.TopK)
	return a, nil
}

func (a *app) Close() {
	if a.bunDB != nil {
		if err := a.bunDB.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}
