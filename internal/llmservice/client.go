package llmservice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-qa/internal/config"
)

// Provider is what langchaingo's google, openai and ollama clients have in common.
type Provider interface {
	llms.Model
	embeddings.EmbedderClient
}

// NewProvider creates the langchaingo client for cfg. cfg.Model is used both as the
// chat model and as the embedding model, so one LLMConfig describes one use.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Str("base_url", cfg.BaseURL).Msg("creating llm client")

	key := strings.TrimPrefix(cfg.Key, "Bearer ")
	switch cfg.Provider {
	case config.ProviderGoogle:
		if key == "" {
			return nil, fmt.Errorf("google provider: missing API key (set GOOGLE_API_KEY)")
		}
		return googleai.New(ctx,
			googleai.WithAPIKey(key),
			googleai.WithDefaultModel(cfg.Model),
			googleai.WithDefaultEmbeddingModel(cfg.Model),
		)
	case config.ProviderOpenAI:
		if key == "" {
			return nil, fmt.Errorf("openai provider: missing API key (set OPENAI_API_KEY)")
		}
		opts := []openai.Option{
			openai.WithToken(key),
			openai.WithModel(cfg.Model),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case config.ProviderOllama:
		return ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// LazyModel is an llms.Model that creates its provider client on first use, so a
// missing credential surfaces as a generation error instead of a startup failure.
type LazyModel struct {
	cfg config.LLMConfig

	mu     sync.Mutex
	client Provider
}

func NewLazyModel(cfg config.LLMConfig) *LazyModel {
	return &LazyModel{cfg: cfg}
}

func (l *LazyModel) Config() config.LLMConfig { return l.cfg }

func (l *LazyModel) provider(ctx context.Context) (Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}
	client, err := NewProvider(ctx, l.cfg)
	if err != nil {
		return nil, err
	}
	l.client = client
	return client, nil
}

func (l *LazyModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	client, err := l.provider(ctx)
	if err != nil {
		return nil, err
	}
	return client.GenerateContent(ctx, messages, options...)
}

func (l *LazyModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, l, prompt, options...)
}

// CreateEmbedding lets a LazyModel serve as an embeddings.EmbedderClient.
func (l *LazyModel) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	client, err := l.provider(ctx)
	if err != nil {
		return nil, err
	}
	return client.CreateEmbedding(ctx, texts)
}

// GenerateContent sends messages to model and returns the first choice's text.
func GenerateContent(ctx context.Context, model llms.Model, messages []llms.MessageContent, options ...llms.CallOption) (string, error) {
	res, err := model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return res.Choices[0].Content, nil
}
