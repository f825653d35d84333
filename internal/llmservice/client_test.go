package llmservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/config"
	"document-qa/internal/testutil"
)

func TestNewProviderRequiresKey(t *testing.T) {
	for _, provider := range []string{config.ProviderGoogle, config.ProviderOpenAI} {
		t.Run(provider, func(t *testing.T) {
			_, err := NewProvider(context.Background(), config.LLMConfig{Provider: provider, Model: "m"})
			assert.ErrorContains(t, err, "missing API key")
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(context.Background(), config.LLMConfig{Provider: "acme", Model: "m"})
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestLazyModelFailsOnFirstUse(t *testing.T) {
	m := NewLazyModel(config.LLMConfig{Provider: config.ProviderGoogle, Model: "gemini-2.5-flash"})

	_, err := m.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "hello"),
	})
	require.Error(t, err)

	_, err = m.CreateEmbedding(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Equal(t, "gemini-2.5-flash", m.Config().Model)
}

func TestGenerateContent(t *testing.T) {
	fake := testutil.NewFakeLLM("42 meters")
	out, err := GenerateContent(context.Background(), fake, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "how long?"),
	}, llms.WithTemperature(0.3))
	require.NoError(t, err)
	assert.Equal(t, "42 meters", out)
	assert.Equal(t, "how long?", fake.LastPrompt())

	temp, err := fake.LastTemperature()
	require.NoError(t, err)
	assert.InDelta(t, 0.3, temp, 1e-9)
}

func TestGenerateContentError(t *testing.T) {
	fake := testutil.NewFakeLLM("")
	fake.Err = testutil.ErrFakeLLM
	_, err := GenerateContent(context.Background(), fake, nil)
	assert.ErrorIs(t, err, testutil.ErrFakeLLM)
}
