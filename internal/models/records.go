package models

import (
	"fmt"
	"strings"
	"time"
)

// Page is the text of one page (or sheet, or slide) of a loaded document.
type Page struct {
	Source string `json:"source"`
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// NewPage validates and builds a Page. Number is 1-based.
func NewPage(source string, number int, text string) (Page, error) {
	if strings.TrimSpace(source) == "" {
		return Page{}, fmt.Errorf("page source is required")
	}
	if number < 1 {
		return Page{}, fmt.Errorf("page number must be >= 1, got %d", number)
	}
	return Page{Source: source, Number: number, Text: text}, nil
}

// Chunk represents a contiguous piece of a page with its rune offset
type Chunk struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Page   int    `json:"page"`
	Offset int    `json:"offset"`
	Text   string `json:"text"`
	// Seq is the insertion order inside an index; ties in similarity are broken by it.
	Seq int `json:"seq"`
}

// NewChunk validates and builds a Chunk.
func NewChunk(id, source string, page, offset int, text string) (Chunk, error) {
	if text == "" {
		return Chunk{}, fmt.Errorf("chunk text is empty (%s page %d offset %d)", source, page, offset)
	}
	if offset < 0 {
		return Chunk{}, fmt.Errorf("chunk offset must be >= 0, got %d", offset)
	}
	return Chunk{ID: id, Source: source, Page: page, Offset: offset, Text: text}, nil
}

type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float32 `json:"similarity"`
}

// Answer is a generated response plus the chunks it was grounded on.
type Answer struct {
	Question string         `json:"question"`
	Text     string         `json:"text"`
	Sources  []SearchResult `json:"sources"`
}

// SourceSummary renders the provenance as "file p.N" entries, nearest first.
func (a *Answer) SourceSummary() string {
	if a == nil || len(a.Sources) == 0 {
		return ""
	}
	parts := make([]string, 0, len(a.Sources))
	for _, s := range a.Sources {
		parts = append(parts, fmt.Sprintf("%s p.%d (%.3f)", s.Chunk.Source, s.Chunk.Page, s.Similarity))
	}
	return strings.Join(parts, ", ")
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IndexManifest describes a persisted index.
type IndexManifest struct {
	EmbeddingModel string    `yaml:"embedding_model"`
	Dimension      int       `yaml:"dimension"`
	ChunkSize      int       `yaml:"chunk_size"`
	ChunkOverlap   int       `yaml:"chunk_overlap"`
	Source         string    `yaml:"source"`
	Chunks         int       `yaml:"chunks"`
	CreatedAt      time.Time `yaml:"created_at"`
}
