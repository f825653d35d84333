package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"document-qa/internal/models"
)

const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendChromem  = "chromem"
	BackendPGVector = "pgvector"

	StrategyWindow    = "window"
	StrategyRecursive = "recursive"

	defaultOllamaURL = "http://localhost:11434"
)

// LLMConfig configures one model provider. It is used for both the embedding and the
// inference model; env variables are prefixed per use (EMBED_*, INFERENCE_*).
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"PROVIDER"`
	BaseURL     string  `yaml:"base_url" env:"BASE_URL"`
	Model       string  `yaml:"model" env:"MODEL"`
	Key         string  `yaml:"key" env:"API_KEY"`
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	BatchSize   int     `yaml:"batch_size" env:"BATCH_SIZE"`
	CacheSize   int     `yaml:"cache_size" env:"CACHE_SIZE"`
}

type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap int    `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	Strategy     string `yaml:"strategy" env:"CHUNK_STRATEGY"`
	TopK         int    `yaml:"top_k" env:"TOP_K"`
	Persona      string `yaml:"persona" env:"PERSONA"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend" env:"INDEX_BACKEND"`
	IndexDir   string `yaml:"index_dir" env:"INDEX_DIR"`
	UploadDir  string `yaml:"upload_dir" env:"UPLOAD_DIR"`
	Collection string `yaml:"collection" env:"COLLECTION"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
	// EncryptionKey, when set, must be exactly 32 bytes (AES-256).
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
}

type DatabaseConfig struct {
	// Driver is "pgdriver" (default) or "pq".
	Driver   string `yaml:"driver" env:"DRIVER"`
	DSN      string `yaml:"dsn" env:"DSN"`
	Password string `yaml:"password" env:"PASSWORD"`
	Table    string `yaml:"table" env:"TABLE"`
	Debug    bool   `yaml:"debug" env:"DEBUG"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type Config struct {
	EmbedLLM     LLMConfig      `yaml:"embed_llm" envPrefix:"EMBED_"`
	InferenceLLM LLMConfig      `yaml:"inference_llm" envPrefix:"INFERENCE_"`
	RAG          RAGConfig      `yaml:"rag" envPrefix:"DOCQA_"`
	Storage      StorageConfig  `yaml:"storage" envPrefix:"DOCQA_"`
	Database     DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Log          LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

// Default returns the canonical configuration: Gemini embeddings + Gemini flash at
// temperature 0.3, 1000/200 rune chunks, top 4 retrieval, chromem index on disk.
func Default() *Config {
	return &Config{
		EmbedLLM: LLMConfig{
			Provider:  ProviderGoogle,
			Model:     "embedding-001",
			BatchSize: 32,
			CacheSize: 256,
		},
		InferenceLLM: LLMConfig{
			Provider:    ProviderGoogle,
			Model:       "gemini-2.5-flash",
			Temperature: models.DefaultTemperature,
		},
		RAG: RAGConfig{
			ChunkSize:    models.DefaultChunkSize,
			ChunkOverlap: models.DefaultChunkOverlap,
			Strategy:     StrategyWindow,
			TopK:         models.DefaultTopK,
			Persona:      models.DefaultPersona,
		},
		Storage: StorageConfig{
			Backend:    BackendChromem,
			IndexDir:   "vectorstore/db_chromem",
			UploadDir:  "pdfs",
			Collection: "document_chunks",
		},
		Database: DatabaseConfig{
			Driver: "pgdriver",
			Table:  "document_chunks",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads a YAML file over the defaults, then applies environment overrides.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills provider specific values that depend on other fields.
func (c *Config) ApplyDefaults() {
	for _, llm := range []*LLMConfig{&c.EmbedLLM, &c.InferenceLLM} {
		llm.Provider = strings.ToLower(strings.TrimSpace(llm.Provider))
		if llm.Key == "" {
			switch llm.Provider {
			case ProviderGoogle:
				llm.Key = os.Getenv("GOOGLE_API_KEY")
			case ProviderOpenAI:
				llm.Key = os.Getenv("OPENAI_API_KEY")
			}
		}
		if llm.Provider == ProviderOllama && llm.BaseURL == "" {
			llm.BaseURL = defaultOllamaURL
		}
	}
	if c.EmbedLLM.BatchSize <= 0 {
		c.EmbedLLM.BatchSize = 32
	}
	if c.RAG.Persona == "" {
		c.RAG.Persona = models.DefaultPersona
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgdriver"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	for name, llm := range map[string]LLMConfig{"embed_llm": c.EmbedLLM, "inference_llm": c.InferenceLLM} {
		switch llm.Provider {
		case ProviderGoogle, ProviderOpenAI, ProviderOllama:
		default:
			return fmt.Errorf("%s: unsupported provider %q", name, llm.Provider)
		}
		if strings.TrimSpace(llm.Model) == "" {
			return fmt.Errorf("%s: model is required", name)
		}
	}
	if c.InferenceLLM.Temperature < 0 || c.InferenceLLM.Temperature > 2 {
		return fmt.Errorf("inference_llm: temperature %.2f out of range [0, 2]", c.InferenceLLM.Temperature)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag: %w: chunk_size must be positive", models.ErrInvalidChunkSettings)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag: %w: chunk_overlap %d must be in [0, %d)",
			models.ErrInvalidChunkSettings, c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	switch c.RAG.Strategy {
	case StrategyWindow, StrategyRecursive:
	default:
		return fmt.Errorf("rag: unknown chunk strategy %q", c.RAG.Strategy)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag: top_k must be positive")
	}
	switch c.Storage.Backend {
	case BackendChromem:
		if c.Storage.IndexDir == "" {
			return fmt.Errorf("storage: index_dir is required")
		}
		if k := len(c.Storage.EncryptionKey); k != 0 && k != 32 {
			return fmt.Errorf("storage: encryption_key must be 32 bytes, got %d", k)
		}
	case BackendPGVector:
		if c.Database.DSN == "" {
			return fmt.Errorf("database: dsn is required for the pgvector backend")
		}
		if c.Database.Driver != "pgdriver" && c.Database.Driver != "pq" {
			return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage: upload_dir is required")
	}
	return nil
}
