package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/models"
	"document-qa/internal/testutil"
)

func TestPromptContainsInstructionAndOrder(t *testing.T) {
	c := NewComposer(testutil.NewFakeLLM("ok"))
	prompt, err := c.Prompt("What is the runway length?", []models.Chunk{
		{Text: "Runway length is 3000 meters."},
		{Text: "Fuel reserve is 30 minutes."},
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, `If you don't know the answer, say "I don't know" and do not invent anything.`)
	assert.Contains(t, prompt, models.DefaultPersona)
	assert.Contains(t, prompt, "Runway length is 3000 meters.\n\nFuel reserve is 30 minutes.")

	q := strings.Index(prompt, "Question: What is the runway length?")
	ctx := strings.Index(prompt, "Context: Runway length")
	ans := strings.LastIndex(prompt, "Answer:")
	require.True(t, q >= 0 && ctx >= 0 && ans >= 0)
	assert.Less(t, q, ctx)
	assert.Less(t, ctx, ans)
}

func TestPromptWithoutChunks(t *testing.T) {
	c := NewComposer(testutil.NewFakeLLM("ok"), WithPersona("You are a maintenance planner."))
	prompt, err := c.Prompt("anything?", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "You are a maintenance planner.")
	assert.Contains(t, prompt, "I don't know")
}

func TestBuildContext(t *testing.T) {
	assert.Equal(t, "", BuildContext(nil))
	assert.Equal(t, "b\n\na", BuildContext([]models.Chunk{{Text: "b"}, {Text: "a"}}))
}

func TestAnswerReturnsModelOutputVerbatim(t *testing.T) {
	llm := testutil.NewFakeLLM("  The runway is 3000 meters long.\n")
	c := NewComposer(llm, WithTemperature(0.3))

	out, err := c.Answer(context.Background(), "runway?", []models.Chunk{{Text: "Runway length is 3000 meters."}})
	require.NoError(t, err)
	assert.Equal(t, "  The runway is 3000 meters long.\n", out)
	assert.Contains(t, llm.LastPrompt(), "Runway length is 3000 meters.")

	temp, err := llm.LastTemperature()
	require.NoError(t, err)
	assert.InDelta(t, 0.3, temp, 1e-9)
}

func TestAnswerWrapsGenerationFailure(t *testing.T) {
	llm := testutil.NewFakeLLM("")
	llm.Err = testutil.ErrFakeLLM
	c := NewComposer(llm)

	_, err := c.Answer(context.Background(), "runway?", nil)
	assert.ErrorIs(t, err, models.ErrGenerationService)
	assert.Len(t, llm.Prompts(), 1, "no retries")
}
