// Package testutil provides deterministic stand-ins for the model providers and
// helpers to build fixture documents.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/llms"
)

// Vocabulary is the default keyword set of KeywordEmbedder.
var Vocabulary = []string{
	"runway", "length", "meters", "pilot", "license", "medical",
	"fuel", "reserve", "minutes", "cabin", "crew", "maintenance",
}

// KeywordEmbedder is a bag-of-words embedding client: dimension i counts
// occurrences of Vocabulary[i], and a constant bias dimension keeps every vector
// non-zero. It satisfies langchaingo's embeddings.EmbedderClient.
type KeywordEmbedder struct {
	Vocabulary []string
	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
	texts int
}

func NewKeywordEmbedder() *KeywordEmbedder {
	return &KeywordEmbedder{Vocabulary: Vocabulary}
}

func (k *KeywordEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	k.mu.Lock()
	k.calls++
	k.texts += len(texts)
	k.mu.Unlock()
	if k.Err != nil {
		return nil, k.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = k.Vector(t)
	}
	return out, nil
}

// Vector embeds a single text without counting a call.
func (k *KeywordEmbedder) Vector(text string) []float32 {
	vec := make([]float32, len(k.Vocabulary)+1)
	vec[len(k.Vocabulary)] = 0.1
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		for i, v := range k.Vocabulary {
			if w == v {
				vec[i]++
			}
		}
	}
	return vec
}

// Calls returns how many CreateEmbedding calls were made.
func (k *KeywordEmbedder) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

// Texts returns the total number of texts embedded.
func (k *KeywordEmbedder) Texts() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.texts
}

var ErrFakeLLM = errors.New("fake llm failure")

// FakeLLM is an llms.Model that records prompts and answers with a fixed reply.
type FakeLLM struct {
	Reply string
	Err   error

	mu           sync.Mutex
	prompts      []string
	temperatures []float64
}

func NewFakeLLM(reply string) *FakeLLM {
	return &FakeLLM{Reply: reply}
}

func (f *FakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	var b strings.Builder
	for _, m := range messages {
		for _, part := range m.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				b.WriteString(tp.Text)
			}
		}
	}

	f.mu.Lock()
	f.prompts = append(f.prompts, b.String())
	f.temperatures = append(f.temperatures, opts.Temperature)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.Reply}},
	}, nil
}

func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// Prompts returns every prompt received so far.
func (f *FakeLLM) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// LastPrompt returns the most recent prompt, or "" when none was received.
func (f *FakeLLM) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// LastTemperature returns the temperature of the most recent call.
func (f *FakeLLM) LastTemperature() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.temperatures) == 0 {
		return 0, fmt.Errorf("no calls recorded")
	}
	return f.temperatures[len(f.temperatures)-1], nil
}
