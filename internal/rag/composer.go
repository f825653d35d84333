package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"document-qa/internal/llmservice"
	"document-qa/internal/models"
)

// Composer renders the answer prompt and asks the generative model.
type Composer struct {
	model       llms.Model
	persona     string
	temperature float64
	template    prompts.PromptTemplate
}

type ComposerOption func(*Composer)

func WithPersona(persona string) ComposerOption {
	return func(c *Composer) {
		if strings.TrimSpace(persona) != "" {
			c.persona = persona
		}
	}
}

func WithTemperature(t float64) ComposerOption {
	return func(c *Composer) { c.temperature = t }
}

func NewComposer(model llms.Model, opts ...ComposerOption) *Composer {
	c := &Composer{
		model:       model,
		persona:     models.DefaultPersona,
		temperature: models.DefaultTemperature,
		template:    prompts.NewPromptTemplate(models.AnswerPromptTemplate, []string{"persona", "question", "context"}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildContext joins chunk texts in the given order.
func BuildContext(chunks []models.Chunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, models.ContextSeparator)
}

// Prompt renders the full prompt for query over chunks.
func (c *Composer) Prompt(query string, chunks []models.Chunk) (string, error) {
	return c.template.Format(map[string]any{
		"persona":  c.persona,
		"question": query,
		"context":  BuildContext(chunks),
	})
}

// Answer returns the model output verbatim. Failures are not retried.
func (c *Composer) Answer(ctx context.Context, query string, chunks []models.Chunk) (string, error) {
	prompt, err := c.Prompt(query, chunks)
	if err != nil {
		return "", fmt.Errorf("%w: render prompt: %v", models.ErrGenerationService, err)
	}

	out, err := llmservice.GenerateContent(ctx, c.model, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGenerationService, err)
	}
	return out, nil
}
